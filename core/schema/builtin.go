package schema

import "strconv"

// Enumerations shared by the built-in schemas.
var (
	Roles            = []string{"admin", "principal", "faculty", "student", "employee"}
	Statuses         = []string{"active", "inactive", "suspended", "graduated"}
	ScholarshipTypes = []string{"merit", "need_based", "sports", "cultural", "minority", "other"}
	Semesters        = []string{"1", "2", "3", "4", "5", "6", "7", "8"}
)

// Course is the schema of course create/update forms.
var Course = New("course",
	String("code").Required().Format(FormatCourseCode),
	String("name").Required().Min(3).Max(100),
	String("department").Required(),
	Integer("credits").Required().Min(1).Max(6),
	String("semester").OneOf(Semesters...),
	Integer("capacity").Min(1).Max(500),
	String("description").Max(1000),
)

// Scholarship is the schema of scholarship applications.
var Scholarship = New("scholarship",
	String("studentId").Required().Labelled("student ID").Format(FormatRollNumber),
	String("scholarshipType").Required().Labelled("scholarship type").OneOf(ScholarshipTypes...),
	Number("amount").Required().Min(1).Max(1000000),
	String("academicYear").Required().Labelled("academic year").Format(FormatAcademicYear).Check(consecutiveYears),
	Number("familyIncome").Labelled("family income").Min(0),
	Number("cgpa").Labelled("CGPA").Min(0).Max(10),
	String("reason").Max(2000),
)

// Exam is the schema of exam scheduling forms.
var Exam = New("exam",
	String("courseCode").Required().Labelled("course code").Format(FormatCourseCode),
	String("startDate").Required().Labelled("start date").Format(FormatDate),
	String("endDate").Required().Labelled("end date").Format(FormatDate).AtLeastField("startDate"),
	Integer("maxMarks").Required().Labelled("max marks").Min(1).Max(1000),
	Integer("passMarks").Required().Labelled("pass marks").Min(0).AtMostField("maxMarks"),
)

// Builtin returns a registry holding the built-in schemas.
func Builtin() *Registry {
	return NewRegistry(Course, Scholarship, Exam)
}

// consecutiveYears checks that an academic year spans two consecutive years (e.g. 2024-2025).
func consecutiveYears(value interface{}) string {
	s, _ := value.(string)
	m := formats[FormatAcademicYear].re.FindStringSubmatch(s)
	if m == nil {
		return "" // reported by the format rule
	}
	from, _ := strconv.Atoi(m[1])
	to, _ := strconv.Atoi(m[2])
	if to != from+1 {
		return "{0} must span two consecutive years"
	}
	return ""
}
