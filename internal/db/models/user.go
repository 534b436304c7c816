// Package models defines the database model types for the AutoThreat backend.
// Each type corresponds to a database table. Models are pure data types;
// business logic belongs in the service layer, query logic in the repositories.
package models

import "time"

// User represents a dashboard user. Browser logins go through the hosted
// identity provider; this row is the stable local anchor that tokens and
// projects reference. OIDCSub is set when the user was first seen through an
// external-issuer token.
type User struct {
	ID        string
	Email     string
	Name      string
	OIDCSub   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}
