package domain

// TenantConfig holds the delivery credentials of one tenant, resolved from the
// receiving channel (phone number id).
type TenantConfig struct {
	TenantID      string
	Name          string
	PhoneNumberID string
	AccessToken   string
	APIVersion    string
}
