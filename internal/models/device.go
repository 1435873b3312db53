package models

// Device binds a redemption request to a claimed identity.
type Device struct {
	ID              string `json:"device_id"`
	UserID          string `json:"user_id"`
	AttestedPubKey  []byte `json:"attested_pubkey"`
	CertFingerprint []byte `json:"cert_fingerprint"`
}
