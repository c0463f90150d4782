package domain

// UnsignedTx describes a contract call for the caller to sign and broadcast
// with their own key. Data is 0x-prefixed ABI-encoded calldata.
type UnsignedTx struct {
	From string `json:"from"`
	To   string `json:"to"`
	Data string `json:"data"`
}
