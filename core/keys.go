package core

// Keys of the persisted local state
const (
	KeyAccessToken     = "sandbox_access_token"
	KeyRefreshToken    = "sandbox_refresh_token"
	KeySelectedAddress = "sandbox_selected_address"
	KeyAPIKey          = "sandbox_api_key"
	KeyWalletSource    = "sandbox_wallet_source"

	KeyCustomAddresses = "sandbox_custom_addresses"
	KeyDefaultAddress  = "sandbox_default_address"
	KeyLastUsedAddress = "sandbox_last_used_address"

	KeyWidgetPreview    = "sandbox_widget_preview"
	KeySidebarCollapsed = "sandbox_sidebar_collapsed"
	KeyPlaygroundLog    = "sandbox_playground_history"
)

// SessionKeys are cleared together on logout or when a refresh fails
var SessionKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeySelectedAddress,
	KeyAPIKey,
	KeyWalletSource,
}
