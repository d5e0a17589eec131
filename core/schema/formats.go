package schema

import "regexp"

// Registered string formats. Each is registered as a validator tag with its own message.
const (
	FormatRollNumber   = "rollno"       // e.g. CS2023001
	FormatCourseCode   = "coursecode"   // e.g. CS101, MATH2001
	FormatEmployeeID   = "empid"        // e.g. EMP00042
	FormatPhone        = "phone"        // 10 to 15 digits, optional leading +
	FormatAcademicYear = "academicyear" // e.g. 2024-2025
	FormatPinCode      = "pincode"      // 6 digits
	FormatUsername     = "username"     // letters, digits & underscores
	FormatDate         = "date"         // YYYY-MM-DD
)

type format struct {
	re  *regexp.Regexp
	msg string
}

var formats = map[string]format{
	FormatRollNumber: {
		re:  regexp.MustCompile(`^[A-Z]{2,4}\d{7}$`),
		msg: "{0} must be a valid roll number (e.g. CS2023001)",
	},
	FormatCourseCode: {
		re:  regexp.MustCompile(`^[A-Z]{2,4}\d{3,4}$`),
		msg: "{0} must be a valid course code (e.g. CS101)",
	},
	FormatEmployeeID: {
		re:  regexp.MustCompile(`^EMP\d{4,6}$`),
		msg: "{0} must be a valid employee ID (e.g. EMP0001)",
	},
	FormatPhone: {
		re:  regexp.MustCompile(`^\+?\d{10,15}$`),
		msg: "{0} must be a valid phone number of 10 to 15 digits",
	},
	FormatAcademicYear: {
		re:  regexp.MustCompile(`^(\d{4})-(\d{4})$`),
		msg: "{0} must be an academic year like 2024-2025",
	},
	FormatPinCode: {
		re:  regexp.MustCompile(`^\d{6}$`),
		msg: "{0} must be a valid 6-digit PIN code",
	},
	FormatUsername: {
		re:  regexp.MustCompile(`^\w+$`),
		msg: "{0} may only contain alphanumeric characters and underscores",
	},
	FormatDate: {
		re:  regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`),
		msg: "{0} must be a date formatted as YYYY-MM-DD",
	},
}

// Formats returns the names of the registered formats.
func Formats() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	return names
}
