package models

// Session is one race weekend session as reported by the upstream feed.
// It is immutable once fetched; the orchestrator never writes it back.
// Start/End stay raw ISO-8601 strings until the window calculator parses
// them, so one malformed timestamp fails that session, not the whole feed.
type Session struct {
	SessionKey       int64  `json:"session_key"`
	SessionName      string `json:"session_name"`
	SessionType      string `json:"session_type"`
	DateStart        string `json:"date_start"`
	DateEnd          string `json:"date_end"`
	GMTOffset        string `json:"gmt_offset"`
	MeetingKey       int64  `json:"meeting_key"`
	Location         string `json:"location"`
	CountryKey       int    `json:"country_key"`
	CountryCode      string `json:"country_code"`
	CountryName      string `json:"country_name"`
	CircuitKey       int    `json:"circuit_key"`
	CircuitShortName string `json:"circuit_short_name"`
	Year             int    `json:"year"`
}

// Driver identity metadata for one entrant in a session.
type Driver struct {
	SessionKey    int64  `json:"session_key"`
	MeetingKey    int64  `json:"meeting_key"`
	BroadcastName string `json:"broadcast_name"`
	CountryCode   string `json:"country_code"`
	FirstName     string `json:"first_name"`
	FullName      string `json:"full_name"`
	HeadshotURL   string `json:"headshot_url"`
	LastName      string `json:"last_name"`
	DriverNumber  int    `json:"driver_number"`
	TeamColour    string `json:"team_colour"`
	TeamName      string `json:"team_name"`
	NameAcronym   string `json:"name_acronym"`
}

// Position is one timing sample: a driver holding a classification slot
// at a point in time.
type Position struct {
	SessionKey   int64  `json:"session_key"`
	MeetingKey   int64  `json:"meeting_key"`
	DriverNumber int    `json:"driver_number"`
	Date         string `json:"date"`
	Position     int    `json:"position"`
}

// MergedPosition is a classification slot joined with the driver holding it.
type MergedPosition struct {
	Position
	BroadcastName string `json:"broadcast_name,omitempty"`
	CountryCode   string `json:"country_code,omitempty"`
	FirstName     string `json:"first_name,omitempty"`
	FullName      string `json:"full_name,omitempty"`
	HeadshotURL   string `json:"headshot_url,omitempty"`
	LastName      string `json:"last_name,omitempty"`
	TeamColour    string `json:"team_colour,omitempty"`
	TeamName      string `json:"team_name,omitempty"`
	NameAcronym   string `json:"name_acronym,omitempty"`
}
