package response

type PaymentInitResponse struct {
	BookingID     string  `json:"bookingId"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	GatewayURL    string  `json:"gatewayUrl"`
}
