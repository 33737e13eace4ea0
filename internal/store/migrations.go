package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create patients and appointments",
		SQL: `
			CREATE TABLE patients (
				id            TEXT PRIMARY KEY,
				phone_number  TEXT NOT NULL,
				full_name     TEXT NOT NULL DEFAULT '',
				email         TEXT NOT NULL DEFAULT '',
				date_of_birth TEXT NOT NULL DEFAULT '',
				status        TEXT NOT NULL DEFAULT 'new',
				created_at    TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_patients_phone ON patients (phone_number);

			CREATE TABLE appointments (
				id                TEXT PRIMARY KEY,
				patient_id        TEXT NOT NULL REFERENCES patients(id),
				doctor_id         TEXT NOT NULL,
				start_time        TEXT NOT NULL,
				end_time          TEXT NOT NULL,
				status            TEXT NOT NULL DEFAULT 'scheduled',
				reason            TEXT NOT NULL DEFAULT '',
				notes             TEXT NOT NULL DEFAULT '',
				calendar_event_id TEXT NOT NULL DEFAULT '',
				created_at        TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_appointments_patient ON appointments (patient_id, start_time);
			CREATE INDEX idx_appointments_doctor ON appointments (doctor_id, start_time);
		`,
	},
	{
		Version: 2,
		Name:    "create reminder tasks and action ledger",
		SQL: `
			CREATE TABLE reminder_tasks (
				id             TEXT PRIMARY KEY,
				appointment_id TEXT NOT NULL REFERENCES appointments(id),
				fire_at        TEXT NOT NULL,
				channel        TEXT NOT NULL DEFAULT 'whatsapp',
				status         TEXT NOT NULL DEFAULT 'pending',
				created_at     TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_reminders_due ON reminder_tasks (status, fire_at);
			CREATE INDEX idx_reminders_appointment ON reminder_tasks (appointment_id);

			CREATE TABLE action_ledger (
				idempotency_key TEXT PRIMARY KEY,
				kind            TEXT NOT NULL,
				appointment_id  TEXT NOT NULL DEFAULT '',
				outcome         TEXT NOT NULL,
				created_at      TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`,
	},
	{
		Version: 3,
		Name:    "create call session archive",
		SQL: `
			CREATE TABLE call_sessions (
				id            TEXT PRIMARY KEY,
				caller_number TEXT NOT NULL,
				final_state   TEXT NOT NULL,
				slots_json    TEXT NOT NULL DEFAULT '{}',
				turn_count    INTEGER NOT NULL DEFAULT 0,
				created_at    TEXT NOT NULL,
				archived_at   TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_call_sessions_caller ON call_sessions (caller_number, archived_at);
		`,
	},
}
