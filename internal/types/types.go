// Package types holds the record types the service exposes. Keeping them in
// one place prevents import cycles: handlers, storage and main can all
// import types without depending on each other.
//
// Each record is a plain struct. Struct tags drive everything the generated
// endpoints do:
//
//   - json:"..."     field name in paths, query strings and JSON bodies
//   - pk:"true"      the primary key (exactly one per type)
//   - default:"..."  value used when a new record omits the field
//   - validate:"..." go-playground/validator rules checked before saving
//   - doc:"..."      description shown in the OpenAPI document
package types

// Student represents a student record.
type Student struct {
	ID    int    `json:"id"    pk:"true"`
	Name  string `json:"name"  validate:"required" doc:"Full name"`
	Email string `json:"email" validate:"omitempty,email"`
	Age   int    `json:"age"   validate:"gte=0,lte=150"`
}

// TableName stores students in the "students" table.
func (Student) TableName() string { return "students" }

// Course uses a string key, which the storage layer fills with a UUID when
// a new course is created without one.
type Course struct {
	ID      string  `json:"id"      pk:"true"`
	Title   string  `json:"title"   validate:"required"`
	Credits int     `json:"credits" default:"3" validate:"gte=1,lte=30"`
	Active  bool    `json:"active"  default:"true"`
	Room    *string `json:"room"    doc:"Null when the course is online"`
}

// TableName stores courses in the "courses" table.
func (Course) TableName() string { return "courses" }
