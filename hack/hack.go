package hack

import _ "embed"

// SystemdUnitTemplate is the systemd unit installed by "camtune install".
// /path/to/camtune is replaced with the executable path.
//
//go:embed camtune.service
var SystemdUnitTemplate string
