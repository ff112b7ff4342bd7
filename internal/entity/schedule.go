package entity

import (
	"time"

	"schedulers.app/internal/auth"
	"schedulers.app/internal/mutation"
)

// Game statuses.
var GameStatuses = []string{"scheduled", "in_progress", "completed", "cancelled", "postponed"}

// Assignment statuses.
var AssignmentStatuses = []string{"assigned", "accepted", "declined", "completed", "cancelled"}

// Game is one scheduled fixture.
type Game struct {
	ID              int64      `json:"id"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	HomeTeam        string     `json:"home_team"`
	AwayTeam        string     `json:"away_team"`
	Location        string     `json:"location,omitempty"`
	Sport           string     `json:"sport"`
	League          string     `json:"league,omitempty"`
	Level           string     `json:"level,omitempty"`
	OfficialsNeeded int        `json:"officials_needed"`
	Notes           string     `json:"notes,omitempty"`
	Status          string     `json:"status"`
	GameFee         float64    `json:"game_fee"`
	CreatedAt       time.Time  `json:"created_at"`
	CreatedBy       *int64     `json:"created_by,omitempty"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
	UpdatedBy       *int64     `json:"updated_by,omitempty"`
}

var gameFields = mutation.Fields{
	"date":             mutation.DateField(),
	"time":             mutation.ClockField(),
	"home_team":        mutation.RequiredText(120),
	"away_team":        mutation.RequiredText(120),
	"location":         mutation.TextField(200),
	"sport":            mutation.RequiredText(60),
	"league":           mutation.TextField(120),
	"level":            mutation.TextField(60),
	"officials_needed": mutation.IntField(1, 20),
	"notes":            mutation.TextField(2000),
	"status":           mutation.EnumField(GameStatuses...),
	"game_fee":         mutation.DecimalField(0, 100_000),
}

func (Game) EntityType() string             { return TypeGame }
func (Game) Table() string                  { return "games" }
func (Game) AllowedFields() mutation.Fields { return gameFields }
func (Game) EditorRoles() []auth.Role       { return auth.AdminRoles }
func (Game) StampColumns() (string, string) { return stampAt, stampBy }

// Official is the officiating profile attached to a principal.
type Official struct {
	ID              int64      `json:"id"`
	PrincipalID     *int64     `json:"principal_id,omitempty"`
	DisplayName     string     `json:"display_name,omitempty"`
	Email           string     `json:"email,omitempty"`
	Phone           string     `json:"phone,omitempty"`
	Sport           string     `json:"sport,omitempty"`
	ExperienceLevel string     `json:"experience_level,omitempty"`
	Certifications  string     `json:"certifications,omitempty"`
	Rating          float64    `json:"rating"`
	Availability    string     `json:"availability,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	Active          bool       `json:"is_active"`
	TotalGames      int        `json:"total_games"`
	UpdatedAt       *time.Time `json:"updated_at,omitempty"`
}

var officialFields = mutation.Fields{
	"sport":            mutation.TextField(60),
	"experience_level": mutation.TextField(60),
	"certifications":   mutation.TextField(500),
	"rating":           mutation.DecimalField(0, 5),
	"availability":     mutation.TextField(500),
	"notes":            mutation.TextField(2000),
	"is_active":        mutation.BoolField(),
}

func (Official) EntityType() string             { return TypeOfficial }
func (Official) Table() string                  { return "officials" }
func (Official) AllowedFields() mutation.Fields { return officialFields }
func (Official) EditorRoles() []auth.Role       { return auth.AdminRoles }
func (Official) StampColumns() (string, string) { return stampAt, stampBy }

// Assignment links an official to a game.
type Assignment struct {
	ID         int64      `json:"id"`
	GameID     int64      `json:"game_id"`
	OfficialID int64      `json:"official_id"`
	Position   string     `json:"position"`
	Status     string     `json:"status"`
	AssignedAt time.Time  `json:"assigned_at"`
	FeeAmount  float64    `json:"fee_amount"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

var assignmentFields = mutation.Fields{
	"position":   mutation.RequiredText(60),
	"status":     mutation.EnumField(AssignmentStatuses...),
	"fee_amount": mutation.DecimalField(0, 100_000),
}

func (Assignment) EntityType() string             { return TypeAssignment }
func (Assignment) Table() string                  { return "assignments" }
func (Assignment) AllowedFields() mutation.Fields { return assignmentFields }
func (Assignment) EditorRoles() []auth.Role       { return auth.AdminRoles }
func (Assignment) StampColumns() (string, string) { return stampAt, stampBy }

// League groups games by competition and season.
type League struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Sport       string     `json:"sport,omitempty"`
	Season      string     `json:"season,omitempty"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"is_active"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

var leagueFields = mutation.Fields{
	"name":        mutation.RequiredText(120),
	"sport":       mutation.TextField(60),
	"season":      mutation.TextField(60),
	"description": mutation.TextField(2000),
	"is_active":   mutation.BoolField(),
}

func (League) EntityType() string             { return TypeLeague }
func (League) Table() string                  { return "leagues" }
func (League) AllowedFields() mutation.Fields { return leagueFields }
func (League) EditorRoles() []auth.Role       { return auth.AdminRoles }
func (League) StampColumns() (string, string) { return stampAt, stampBy }

// Location is a venue.
type Location struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Address       string     `json:"address,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state,omitempty"`
	ZipCode       string     `json:"zip_code,omitempty"`
	ContactPerson string     `json:"contact_person,omitempty"`
	ContactPhone  string     `json:"contact_phone,omitempty"`
	Capacity      *int       `json:"capacity,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Active        bool       `json:"is_active"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

var locationFields = mutation.Fields{
	"name":           mutation.RequiredText(120),
	"address":        mutation.TextField(200),
	"city":           mutation.TextField(100),
	"state":          mutation.TextField(50),
	"zip_code":       mutation.TextField(20),
	"contact_person": mutation.TextField(120),
	"contact_phone":  mutation.TextField(40),
	"capacity":       mutation.IntField(0, 1_000_000),
	"notes":          mutation.TextField(2000),
	"is_active":      mutation.BoolField(),
}

func (Location) EntityType() string             { return TypeLocation }
func (Location) Table() string                  { return "locations" }
func (Location) AllowedFields() mutation.Fields { return locationFields }
func (Location) EditorRoles() []auth.Role       { return auth.AdminRoles }
func (Location) StampColumns() (string, string) { return stampAt, stampBy }

// DashboardStats is the summary shown on the admin landing page.
type DashboardStats struct {
	TotalGames       int `json:"total_games"`
	UpcomingGames    int `json:"upcoming_games"`
	ActiveOfficials  int `json:"active_officials"`
	TotalAssignments int `json:"total_assignments"`
	TotalUsers       int `json:"total_users"`
}
