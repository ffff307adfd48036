package volatility

import "strings"

// DefaultPlugins is the Windows triage set run when no list is configured.
var DefaultPlugins = []string{
	"windows.callbacks",
	"windows.shimcachemem",
	"windows.cmdline",
	"windows.svcscan",
	"windows.sessions",
	"windows.vadinfo",
	"windows.filescan",
	"windows.registry.userassist",
	"windows.dlllist",
	"windows.pslist",
	"windows.pstree",
	"windows.psscan",
	"windows.driverscan",
	"windows.malfind",
	"windows.registry.hivelist",
	"windows.ldrmodules",
	"windows.joblinks",
	"windows.handles",
}

var baseReplacer = strings.NewReplacer(".", "_", "/", "_", "\\", "_")

// OutputBase is the file name stem for a plugin's reports.
func OutputBase(plugin string) string {
	return baseReplacer.Replace(plugin)
}
