package security

import "strings"

// deniedFlags are caller-supplied flags that read or write local files,
// replace the sanitized target, or open a shell on the remote end. Flags are
// matched exactly and in their "--flag=value" form.
var deniedFlags = map[string][]string{
	"nmap": {
		"-iL", "-iR", "-oN", "-oX", "-oS", "-oG", "-oA", "-oM", "-oH",
		"--resume", "--datadir", "--servicedb", "--versiondb", "--stylesheet",
		"--excludefile", "--script-args-file", "--append-output",
	},
	"nuclei": {
		"-u", "-target", "-l", "-list", "-o", "-output", "-config",
		"-je", "-jsonl-export", "-me", "-markdown-export", "-se", "-sarif-export",
		"-srd", "-store-resp-dir", "-sr", "-store-resp", "-rc", "-report-config",
		"-tc", "-pc", "-profile-config", "-resume", "-var",
	},
	"nikto": {
		"-h", "-host", "-o", "-output", "-config", "-Save", "-Format", "-useproxy",
	},
	"sqlmap": {
		"-u", "--url", "-r", "-l", "-m", "-c", "-g", "--output-dir", "--tmp-dir",
		"--os-shell", "--os-cmd", "--os-pwn", "--os-smbrelay", "--os-bof",
		"--file-read", "--file-write", "--file-dest", "--sql-shell", "--sql-file",
		"--eval", "--load-cookies", "--har", "--dump-file", "--shell",
		"--priv-esc", "--reg-add", "--reg-del", "--reg-read",
	},
	"sslscan": {"--targets", "--xml", "--certs", "--pk", "--pkpass"},
	"whatweb": {"-i", "--input-file", "--log-brief", "--log-verbose", "--log-json",
		"--log-json-verbose", "--log-xml", "--log-magictree", "--log-object",
		"--log-mongo-database", "--log-sql", "--log-sql-create", "--log-errors",
		"--plugins", "--custom-plugin", "--dorks"},
	"wpscan": {"--url", "-o", "--output", "--cache-dir", "--log", "--wp-content-dir"},
	"subfinder": {"-d", "-domain", "-dL", "-list", "-o", "-output", "-oD",
		"-output-dir", "-config", "-pc", "-provider-config"},
}

// nmap's output flags also take their file name attached, e.g. "-oNscan.txt".
var attachedFlags = map[string]bool{
	"-oN": true, "-oX": true, "-oS": true, "-oG": true, "-oA": true, "-oM": true, "-oH": true, "-iL": true, "-iR": true,
}

// deniedFlag returns the denied flag arg uses for tool, or "".
func deniedFlag(tool, arg string) string {
	for _, f := range deniedFlags[tool] {
		if arg == f || strings.HasPrefix(arg, f+"=") {
			return f
		}
		if tool == "nmap" && attachedFlags[f] && strings.HasPrefix(arg, f) {
			return f
		}
	}
	return ""
}
