package rediskey

import "fmt"

// Key namespaces (global convention across services)
const (
	QRTokenPrefix      = "mission:qrtoken"
	AntispoofFixPrefix = "antispoof:fix"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildQRTokenKey returns "mission:qrtoken:{token}"
func BuildQRTokenKey(token string) string {
	return NamespaceKey(QRTokenPrefix, token)
}

// BuildAntispoofFixKey returns "antispoof:fix:{deviceID}"
func BuildAntispoofFixKey(deviceID string) string {
	return NamespaceKey(AntispoofFixPrefix, deviceID)
}
