package mitre

// Technique is one entry in the built-in ATT&CK reference table.
type Technique struct {
	Name     string
	Tactic   string
	Keywords []string
}

// TechniqueDB covers the techniques most commonly encountered in threat
// reports. Keys are ATT&CK ids, sub-techniques included.
var TechniqueDB = map[string]Technique{
	// Initial Access
	"T1566":     {Name: "Phishing", Tactic: "initial_access", Keywords: []string{"phishing", "spear-phishing", "email attachment", "malicious link"}},
	"T1566.001": {Name: "Spearphishing Attachment", Tactic: "initial_access", Keywords: []string{"attachment", "doc", "xls", "macro", "office"}},
	"T1566.002": {Name: "Spearphishing Link", Tactic: "initial_access", Keywords: []string{"link", "url", "click"}},
	"T1190":     {Name: "Exploit Public-Facing Application", Tactic: "initial_access", Keywords: []string{"exploit", "vulnerability", "cve", "rce"}},
	"T1133":     {Name: "External Remote Services", Tactic: "initial_access", Keywords: []string{"vpn", "rdp", "remote desktop", "citrix"}},
	"T1195":     {Name: "Supply Chain Compromise", Tactic: "initial_access", Keywords: []string{"supply chain", "trojanized", "update", "package"}},

	// Execution
	"T1059":     {Name: "Command and Scripting Interpreter", Tactic: "execution", Keywords: []string{"script", "interpreter"}},
	"T1059.001": {Name: "PowerShell", Tactic: "execution", Keywords: []string{"powershell", "ps1", "invoke-expression", "iex", "-encodedcommand", "-enc"}},
	"T1059.003": {Name: "Windows Command Shell", Tactic: "execution", Keywords: []string{"cmd.exe", "cmd /c", "command prompt", "batch"}},
	"T1059.005": {Name: "Visual Basic", Tactic: "execution", Keywords: []string{"vbscript", "vbs", "wscript", "cscript", "macro"}},
	"T1059.007": {Name: "JavaScript", Tactic: "execution", Keywords: []string{"javascript", "jscript", "js", "node"}},
	"T1204":     {Name: "User Execution", Tactic: "execution", Keywords: []string{"user execution", "double click", "open", "run"}},
	"T1047":     {Name: "Windows Management Instrumentation", Tactic: "execution", Keywords: []string{"wmi", "wmic", "wmiprvse"}},
	"T1053":     {Name: "Scheduled Task/Job", Tactic: "execution", Keywords: []string{"schtasks", "scheduled task", "cron", "at.exe"}},

	// Persistence
	"T1547.001": {Name: "Registry Run Keys / Startup Folder", Tactic: "persistence", Keywords: []string{"run key", "startup", `hkcu\software\microsoft\windows\currentversion\run`, "autorun"}},
	"T1543.003": {Name: "Windows Service", Tactic: "persistence", Keywords: []string{"service", "sc.exe", "new-service"}},
	"T1136":     {Name: "Create Account", Tactic: "persistence", Keywords: []string{"net user", "create account", "add user"}},
	"T1505.003": {Name: "Web Shell", Tactic: "persistence", Keywords: []string{"webshell", "web shell", "aspx", "jsp"}},

	// Privilege Escalation
	"T1548.002": {Name: "Bypass UAC", Tactic: "privilege_escalation", Keywords: []string{"uac", "bypass", "eventvwr", "fodhelper"}},
	"T1068":     {Name: "Exploitation for Privilege Escalation", Tactic: "privilege_escalation", Keywords: []string{"privilege escalation", "local exploit", "kernel exploit"}},

	// Defense Evasion
	"T1027":     {Name: "Obfuscated Files or Information", Tactic: "defense_evasion", Keywords: []string{"obfuscated", "encoded", "base64", "encryption", "packed"}},
	"T1036":     {Name: "Masquerading", Tactic: "defense_evasion", Keywords: []string{"masquerad", "renamed", "disguised", "legitimate"}},
	"T1070":     {Name: "Indicator Removal", Tactic: "defense_evasion", Keywords: []string{"clear logs", "delete logs", "wevtutil", "indicator removal"}},
	"T1562.001": {Name: "Disable or Modify Tools", Tactic: "defense_evasion", Keywords: []string{"disable defender", "tamper protection", "disable antivirus", "kill av"}},
	"T1055":     {Name: "Process Injection", Tactic: "defense_evasion", Keywords: []string{"inject", "process injection", "dll injection", "hollowing", "createremotethread"}},
	"T1218":     {Name: "System Binary Proxy Execution", Tactic: "defense_evasion", Keywords: []string{"mshta", "rundll32", "regsvr32", "certutil", "lolbin"}},

	// Credential Access
	"T1003":     {Name: "OS Credential Dumping", Tactic: "credential_access", Keywords: []string{"credential dump", "lsass", "mimikatz", "procdump", "ntds"}},
	"T1003.001": {Name: "LSASS Memory", Tactic: "credential_access", Keywords: []string{"lsass", "mimikatz", "sekurlsa"}},
	"T1110":     {Name: "Brute Force", Tactic: "credential_access", Keywords: []string{"brute force", "password spray", "credential stuffing"}},
	"T1552":     {Name: "Unsecured Credentials", Tactic: "credential_access", Keywords: []string{"plaintext password", "credentials in files", "password file"}},

	// Discovery
	"T1082": {Name: "System Information Discovery", Tactic: "discovery", Keywords: []string{"systeminfo", "hostname", "ver", "system information"}},
	"T1083": {Name: "File and Directory Discovery", Tactic: "discovery", Keywords: []string{"dir", "find", "ls", "file listing"}},
	"T1087": {Name: "Account Discovery", Tactic: "discovery", Keywords: []string{"net user", "net group", "whoami", "account discovery"}},
	"T1057": {Name: "Process Discovery", Tactic: "discovery", Keywords: []string{"tasklist", "ps", "get-process", "process list"}},
	"T1049": {Name: "System Network Connections Discovery", Tactic: "discovery", Keywords: []string{"netstat", "ss", "network connections"}},

	// Lateral Movement
	"T1021.001": {Name: "Remote Desktop Protocol", Tactic: "lateral_movement", Keywords: []string{"rdp", "mstsc", "remote desktop", "3389"}},
	"T1021.002": {Name: "SMB/Windows Admin Shares", Tactic: "lateral_movement", Keywords: []string{"smb", "admin$", "c$", "ipc$", "net use"}},
	"T1570":     {Name: "Lateral Tool Transfer", Tactic: "lateral_movement", Keywords: []string{"copy", "transfer", "move laterally", "psexec"}},

	// Collection
	"T1005":     {Name: "Data from Local System", Tactic: "collection", Keywords: []string{"collect data", "local files", "sensitive data"}},
	"T1113":     {Name: "Screen Capture", Tactic: "collection", Keywords: []string{"screenshot", "screen capture", "screen grab"}},
	"T1056.001": {Name: "Keylogging", Tactic: "collection", Keywords: []string{"keylogger", "keylogging", "keystroke"}},

	// Command and Control
	"T1071":     {Name: "Application Layer Protocol", Tactic: "command_and_control", Keywords: []string{"http", "https", "dns", "c2", "command and control"}},
	"T1071.001": {Name: "Web Protocols", Tactic: "command_and_control", Keywords: []string{"http beacon", "https callback", "web c2"}},
	"T1071.004": {Name: "DNS", Tactic: "command_and_control", Keywords: []string{"dns tunnel", "dns c2", "dns exfiltration"}},
	"T1105":     {Name: "Ingress Tool Transfer", Tactic: "command_and_control", Keywords: []string{"download", "wget", "curl", "certutil", "bitsadmin"}},
	"T1572":     {Name: "Protocol Tunneling", Tactic: "command_and_control", Keywords: []string{"tunnel", "ssh tunnel", "vpn tunnel", "socks"}},
	"T1573":     {Name: "Encrypted Channel", Tactic: "command_and_control", Keywords: []string{"encrypted", "ssl", "tls", "encrypted c2"}},

	// Exfiltration
	"T1041": {Name: "Exfiltration Over C2 Channel", Tactic: "exfiltration", Keywords: []string{"exfiltrate", "data theft", "steal data"}},
	"T1048": {Name: "Exfiltration Over Alternative Protocol", Tactic: "exfiltration", Keywords: []string{"ftp exfil", "dns exfil", "icmp exfil"}},
	"T1567": {Name: "Exfiltration Over Web Service", Tactic: "exfiltration", Keywords: []string{"cloud storage", "dropbox", "google drive", "mega"}},

	// Impact
	"T1486": {Name: "Data Encrypted for Impact", Tactic: "impact", Keywords: []string{"ransomware", "encrypt", "ransom", "locked files"}},
	"T1490": {Name: "Inhibit System Recovery", Tactic: "impact", Keywords: []string{"vssadmin", "shadow copy", "bcdedit", "wbadmin"}},
	"T1489": {Name: "Service Stop", Tactic: "impact", Keywords: []string{"stop service", "net stop", "sc stop", "taskkill"}},
}
