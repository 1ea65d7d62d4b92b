package model

// Identity provides the id of the user the client acts for.
// The auth layer implements it; the messaging core only needs the id.
type Identity interface {
	CurrentUserID() string
}

// StaticIdentity is an Identity with a fixed user id.
type StaticIdentity string

func (s StaticIdentity) CurrentUserID() string { return string(s) }
