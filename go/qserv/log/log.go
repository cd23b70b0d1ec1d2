/*
Copyright 2026 The Qserv Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package log is a thin adapter around glog so that the rest of the
// codebase does not import it directly. Binaries call RegisterFlags
// once to expose the glog flags on their own flag set.
package log

import (
	"flag"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
)

var (
	// V quickly checks if the logging verbosity meets a threshold.
	V = glog.V

	// Flush ensures any pending I/O is written.
	Flush = glog.Flush

	// Info formats arguments like fmt.Print.
	Info = glog.Info
	// Infof formats arguments like fmt.Printf.
	Infof = glog.Infof

	// Warning formats arguments like fmt.Print.
	Warning = glog.Warning
	// Warningf formats arguments like fmt.Printf.
	Warningf = glog.Warningf

	// Error formats arguments like fmt.Print.
	Error = glog.Error
	// Errorf formats arguments like fmt.Printf.
	Errorf = glog.Errorf

	// Fatal formats arguments like fmt.Print, then exits.
	Fatal = glog.Fatal
	// Fatalf formats arguments like fmt.Printf, then exits.
	Fatalf = glog.Fatalf
)

// RegisterFlags installs the glog flags on the given flag set.
func RegisterFlags(fs *pflag.FlagSet) {
	var gf flag.FlagSet
	glog.CopyStandardLogTo("INFO")
	flag.CommandLine.VisitAll(func(f *flag.Flag) {
		switch f.Name {
		case "v", "logtostderr", "alsologtostderr", "stderrthreshold", "log_dir":
			gf.Var(f.Value, f.Name, f.Usage)
		}
	})
	fs.AddGoFlagSet(&gf)
}
