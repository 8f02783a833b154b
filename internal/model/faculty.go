package model

// Status is the availability state reported for a faculty cabin.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBusy      Status = "BUSY"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusAvailable || s == StatusBusy
}

// FacultyStatus is the value stored under faculty/{cabinId}.
type FacultyStatus struct {
	Status    Status `json:"status"`
	UpdatedAt string `json:"updatedAt"`
}

// Faculty is one entry of a student's personalized faculty list.
type Faculty struct {
	CabinID string `json:"cabinId"`
	Name    string `json:"name"`
}

// Semester is a semester offered by the portal.
type Semester struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Realtime store collection roots.
const (
	PathFaculty       = "faculty"
	PathFacultyConfig = "facultyConfig"
	PathSubsCount     = "subsCount"
	PathStudentSubs   = "studentSubs"
)
