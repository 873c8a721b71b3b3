package models

// Preference keys stored in the prefs table.
const (
	PrefModuleRunning    = "module_running"
	PrefSystemDNSAllowed = "system_dns_allowed"
)

// Notification keys stored with each notification.
const (
	KeyNoInternet          = "no_internet"
	KeyFatalError          = "fatal_error"
	KeyStoppedUnexpectedly = "stopped_unexpectedly"
)
