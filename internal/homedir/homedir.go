// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package homedir

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Get returns the home directory of the current user.
func Get() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	usr, err := user.Current()
	if err != nil {
		panic(err)
	}
	return usr.HomeDir
}

// Expand replaces a leading "~" in path with the home directory.
// "~user" forms are left alone.
func Expand(path string) string {
	if path == "~" {
		return Get()
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(Get(), path[2:])
	}
	return path
}
