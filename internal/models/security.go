package models

// Security identifies one tradeable instrument.
type Security struct {
	Code string `json:"code"`
	Name string `json:"name"`
}
