package models

// AccountType distinguishes the two roles a user can hold.
type AccountType int

const (
	AccountPassenger AccountType = iota // 0
	AccountDriver
)

func (a AccountType) String() string {
	if a == AccountDriver {
		return "driver"
	}
	return "passenger"
}

// User is passive reference data; the coordination core reads but never
// mutates it.
type User struct {
	UID         string      `json:"uid"`
	FullName    string      `json:"fullname"`
	Email       string      `json:"email"`
	AccountType AccountType `json:"account_type"`
}
