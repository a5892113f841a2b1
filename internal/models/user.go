package models

import "time"

// User types.
const (
	UserTypeElf    = 1
	UserTypeWizard = 2
	UserTypeDwarf  = 3
)

var UserTypeNames = map[int]string{
	UserTypeElf:    "Elf",
	UserTypeWizard: "Wizard",
	UserTypeDwarf:  "Dwarf",
}

type User struct {
	ID        int       `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	UserType  int       `json:"user_type" db:"user_type"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
