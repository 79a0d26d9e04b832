package domain

// Product is the stock-independent catalog view consumed at checkout to
// snapshot the unit price. The catalog itself is an external collaborator.
type Product struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}
