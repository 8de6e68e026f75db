package apiServer

import "time"

// Ciphertext fields ride as base64 strings in JSON, which is what
// encoding/json does with []byte.

type submitRequest struct {
	UsageCt     []byte `json:"usageCt"`
	TimestampCt []byte `json:"timestampCt"`
	LoadCt      []byte `json:"loadCt"`
}

type submitResponse struct {
	ID uint64 `json:"id"`
}

type submissionResponse struct {
	ID         uint64    `json:"id"`
	AcceptedAt time.Time `json:"acceptedAt"`
	Revealed   bool      `json:"revealed"`
	Usage      uint64    `json:"usage"`
	Load       uint64    `json:"load"`
}

type revealResponse struct {
	RequestID string `json:"requestId"`
}

type systemsResponse struct {
	SystemKeys []string `json:"systemKeys"`
}

type sumResponse struct {
	SystemKey    string  `json:"systemKey"`
	EncryptedSum []byte  `json:"encryptedSum"`
	RevealedSum  *uint64 `json:"revealedSum,omitempty"`
}
