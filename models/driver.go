package models

import "time"

// DriverSighting is the most recent known location of a broadcasting driver.
// There is one sighting per driver uid; a newer broadcast overwrites it.
type DriverSighting struct {
	DriverUID string     `json:"driver_uid"`
	Location  Coordinate `json:"location"`
	UpdatedAt time.Time  `json:"updated_at"`
}
