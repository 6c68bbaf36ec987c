package configuration

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	logging "github.com/magmasystems/ResourceDisposalKit/framework/logging"
)

// ConfigManagerOps - the operations that the ConfigManager can perform
type ConfigManagerOps interface {
	Config() *AppSettings
}

// ConfigManager - handles configuration
type ConfigManager struct {
}

// AppSettings - config settings for the resource monitor
type AppSettings struct {
	Driver      string // the default kind of handle that the Janitor acquires
	LockDir     string // where the file-lock handles live
	SlackSecret string
	Webhook     string
	DMWebhook   string
	Port        int
	Database    struct {
		User     string
		Password string
		Host     string
		Port     int
		DbName   string
		SSL      bool
	}
	SweepInterval  int // minutes between sweeps of the live handles
	LeakTTLMinutes int // a handle open longer than this is considered leaked
}

// Config - get the config settings from appSettings.json.
// If the file does not exist, built-in defaults are returned, so that the framework
// packages can be used without any config file at all.
func (mgr *ConfigManager) Config() *AppSettings {
	settings := defaultSettings()

	appSettingsFileName := "appSettings.json"

	// See if there is an "env" argument on the command line. If so, it can point to another config file.
	env := getArg("env", "")
	if env != "" {
		s := fmt.Sprintf("appSettings.%s.json", env)
		// see if this config file exists
		if _, err := os.Stat(s); err == nil {
			appSettingsFileName = s
		}
	}

	bytes, err := os.ReadFile(appSettingsFileName)
	if err != nil {
		logging.Infof("cannot find the %s file, using the default settings\n", appSettingsFileName)
		return settings
	}

	json.Unmarshal(bytes, &settings)

	// In case they are omitted, we need sensible values on the intervals
	if settings.SweepInterval == 0 {
		settings.SweepInterval = 5
	}
	if settings.LeakTTLMinutes == 0 {
		settings.LeakTTLMinutes = 60
	}

	return settings
}

func defaultSettings() *AppSettings {
	settings := new(AppSettings)
	settings.Driver = "tempfile"
	settings.LockDir = os.TempDir()
	settings.SweepInterval = 5
	settings.LeakTTLMinutes = 60
	return settings
}

func getArg(key string, defautVal string) string {
	var val string

	for idx, arg := range os.Args {
		switch strings.ToLower(arg) {
		case key:
			// a key with no value after it is treated as absent
			if idx+1 < len(os.Args) {
				val = os.Args[idx+1]
			}
			break
		}
	}

	if len(val) == 0 {
		val = defautVal
	}

	return val
}
