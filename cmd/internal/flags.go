package internal

import "flag"

const (
	envDefault = ".env"
	envUsage   = "dotenv file to load before reading the environment"

	storeDefault = StoreFile
	storeUsage   = "credential store: file, postgres or redis"
)

// Store backends selectable with -store.
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

func EnvFlag(fs *flag.FlagSet, path *string) {
	fs.StringVar(path, "env", envDefault, envUsage)
	fs.StringVar(path, "e", envDefault, envUsage+" (shorthand)")
}

func StoreFlag(fs *flag.FlagSet, kind *string) {
	fs.StringVar(kind, "store", storeDefault, storeUsage)
	fs.StringVar(kind, "s", storeDefault, storeUsage+" (shorthand)")
}
