package wire

// Client->server opcodes (4-byte, little-endian).
const (
	CMSGAuthSession      uint32 = 0x01ED
	CMSGAuthSurveyResult uint32 = 0x01F0
)

// Server->client opcodes (2-byte, little-endian).
const (
	SMSGAuthChallenge  uint16 = 0x01EC
	SMSGAuthResponse   uint16 = 0x01EE
	SMSGAuthSurveyMeta uint16 = 0x01EF
	SMSGKeepAlive      uint16 = 0x01F1
)
