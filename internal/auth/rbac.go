package auth

// Permission names an API capability.
type Permission string

const (
	PermServersList    Permission = "servers.list"
	PermServersGet     Permission = "servers.get"
	PermServersControl Permission = "servers.control"
	PermServersRCON    Permission = "servers.rcon"
	PermLogsStream     Permission = "servers.logs.stream"
	PermActivityRead   Permission = "servers.activity.read"
	PermBackupsList    Permission = "servers.backups.list"
	PermBackupsCreate  Permission = "servers.backups.create"
	PermBackupsRestore Permission = "servers.backups.restore"
	PermBackupsDelete  Permission = "servers.backups.delete"
)

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

var rolePermissions = map[string][]Permission{
	RoleAdmin: {
		PermServersList, PermServersGet, PermServersControl, PermServersRCON,
		PermLogsStream, PermActivityRead,
		PermBackupsList, PermBackupsCreate, PermBackupsRestore, PermBackupsDelete,
	},
	RoleOperator: {
		PermServersList, PermServersGet, PermServersControl, PermServersRCON,
		PermLogsStream, PermBackupsList, PermBackupsCreate,
	},
	RoleViewer: {
		PermServersList, PermServersGet, PermLogsStream, PermBackupsList,
	},
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	_, ok := rolePermissions[role]
	return ok
}

// HasPermission reports whether any of roles grants permission.
func HasPermission(roles []string, permission Permission) bool {
	for _, role := range roles {
		for _, p := range rolePermissions[role] {
			if p == permission {
				return true
			}
		}
	}
	return false
}
