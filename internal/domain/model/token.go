package model

// TokenInfo is fungible-token metadata resolved from the token contract at
// startup. Immutable for the process lifetime.
type TokenInfo struct {
	Address  string
	Symbol   string
	Decimals uint8
}
