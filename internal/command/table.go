package command

// HandlerTableConfig supplies the runtime parameters individual handlers
// need (paths, optional platform-specific collaborators).
type HandlerTableConfig struct {
	DownloadTempDir  string
	LogDir           string
	SoftwareRegistry SoftwareRegistry
}

// NewHandlerTable builds the dispatch table from command Type to Handler.
func NewHandlerTable(cfg HandlerTableConfig) map[Type]Handler {
	return map[Type]Handler{
		TypeConsole:           ConsoleHandler{},
		TypeSystemAction:      SystemActionHandler{},
		TypeSoftwareInstall:   NewSoftwareInstallHandler(cfg.DownloadTempDir),
		TypeSoftwareUninstall: NewSoftwareUninstallHandler(cfg.SoftwareRegistry),
		TypeGetLogs:           NewGetLogsHandler(cfg.LogDir),
	}
}
