package request

import "net/url"

// GatewayNotification is the form the payment gateway posts to the IPN and
// redirect endpoints. Nothing in it is trusted until validated server-side.
type GatewayNotification struct {
	TransactionID string `validate:"required,max=64"`
	ValidationID  string
	Status        string
	Amount        string
	CardType      string
	Error         string
}

func GatewayNotificationFromForm(form url.Values) *GatewayNotification {
	return &GatewayNotification{
		TransactionID: form.Get("tran_id"),
		ValidationID:  form.Get("val_id"),
		Status:        form.Get("status"),
		Amount:        form.Get("amount"),
		CardType:      form.Get("card_type"),
		Error:         form.Get("error"),
	}
}
