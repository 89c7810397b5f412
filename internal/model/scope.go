package model

// Scope identifies the repository a pull token is requested for.
type Scope struct {
	Namespace  string
	Repository string
}

// String renders the scope in the token endpoint's format.
func (s Scope) String() string {
	return "repository:" + s.Namespace + "/" + s.Repository + ":pull"
}
