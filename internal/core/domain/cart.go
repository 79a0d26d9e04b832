package domain

import "time"

// Cart is a user's desired purchase. It is advisory only: nothing in a
// cart is reserved, stock is held for the first time at checkout.
type Cart struct {
	UserID    string     `json:"user_id"`
	Items     []CartItem `json:"items"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Quantity returns the quantity of productID currently in the cart, 0 if absent.
func (c *Cart) Quantity(productID string) int {
	for _, item := range c.Items {
		if item.ProductID == productID {
			return item.Quantity
		}
	}
	return 0
}

// Add merges quantity into an existing line item or appends a new one.
func (c *Cart) Add(productID string, quantity int) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity += quantity
			return
		}
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity})
}

// SetQuantity replaces a line item's quantity; 0 removes the line.
func (c *Cart) SetQuantity(productID string, quantity int) {
	if quantity == 0 {
		c.Remove(productID)
		return
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return
		}
	}
	c.Items = append(c.Items, CartItem{ProductID: productID, Quantity: quantity})
}

func (c *Cart) Remove(productID string) {
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return
		}
	}
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}
