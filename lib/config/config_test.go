// config_test.go tests config files
package config

import (
	"testing"
)

// fileToTest is a relative path to the configuration file to test (ie. walletmon/cmd/conf.json)
var fileToTest string = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	//extract configuration
	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	} else {
		// lets check the port
		if conf.Port != "3030" {
			t.Errorf("config port is not the expected %s", conf.Port)
		}
		// the reconciliation schedule
		if conf.Interval != 300 || conf.Workers != 4 || conf.Senders != 2 {
			t.Errorf("reconciler settings do not match the expected %v/%v/%v", conf.Interval, conf.Workers, conf.Senders)
		}
		// and the seed administrator
		if conf.SeedAdmin != "326919987" {
			t.Errorf("seed admin does not match the expected %s", conf.SeedAdmin)
		}
	}
}

// TestConfigEnv checks OS ENV variables override file values
func TestConfigEnv(t *testing.T) {
	t.Setenv("WM_INTERVAL", "5")
	t.Setenv("WM_SEEDADMIN", "100")

	conf, err := ExtractConfiguration(fileToTest)
	if err != nil {
		t.Errorf("Error reading config file:%e\n", err)
	}
	if conf.Interval != 5 {
		t.Errorf("WM_INTERVAL did not override the file value, got %v", conf.Interval)
	}
	if conf.SeedAdmin != "100" {
		t.Errorf("WM_SEEDADMIN did not override the file value, got %s", conf.SeedAdmin)
	}

	t.Setenv("WM_INTERVAL", "not-a-number")
	if _, err = ExtractConfiguration(fileToTest); err == nil {
		t.Errorf("expected error for invalid WM_INTERVAL")
	}
}
