// Package audit tracks the per-command audit logging setting and the
// ForceAudit/FIPS flags exposed through GetOption/SetOption.
//
// Grounded on the Rust original's get_option/put_option handlers
// (mockhsm/command.rs); the emulator never actually writes audit log
// entries (GetLogEntries always reports zero, matching the explicit
// audit-log-fidelity non-goal), so this package only models the
// configuration surface, not a log.
package audit

import "github.com/yubihsm/mockhsm/command"

// Log holds the three option groups a real device exposes: a per-command
// audit setting, a global force-audit flag, and a FIPS-mode flag.
type Log struct {
	perCommand map[command.Code]command.AuditOption
	force      command.AuditOption
	fips       command.AuditOption
}

// NewLog returns a Log with every command defaulted to AuditOff, matching
// the device's factory default.
func NewLog() *Log {
	return &Log{perCommand: make(map[command.Code]command.AuditOption)}
}

// SetCommand sets the audit option for a single command code.
func (l *Log) SetCommand(code command.Code, opt command.AuditOption) {
	l.perCommand[code] = opt
}

// Command returns the audit option for a command code, defaulting to Off.
func (l *Log) Command(code command.Code) command.AuditOption {
	if opt, ok := l.perCommand[code]; ok {
		return opt
	}
	return command.AuditOff
}

// SetForce sets the ForceAudit flag.
func (l *Log) SetForce(opt command.AuditOption) { l.force = opt }

// Force returns the ForceAudit flag.
func (l *Log) Force() command.AuditOption { return l.force }

// SetFips sets the FIPS-mode flag.
func (l *Log) SetFips(opt command.AuditOption) { l.fips = opt }

// Fips returns the FIPS-mode flag.
func (l *Log) Fips() command.AuditOption { return l.fips }

// Reset restores every option to its factory default; called by
// ResetDevice.
func (l *Log) Reset() {
	l.perCommand = make(map[command.Code]command.AuditOption)
	l.force = command.AuditOff
	l.fips = command.AuditOff
}
