package request

type GenerateOTPRequest struct {
	Type string `json:"type" validate:"required,oneof=start completion"`
}

type VerifyOTPRequest struct {
	Type string `json:"type" validate:"required,oneof=start completion"`
	Code string `json:"code" validate:"required,numeric,min=4,max=10"`
}
