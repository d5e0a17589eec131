package user

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/schema"
)

const commonPasswordsPath = "common-passwords.txt.gz"

var (
	// password policy
	pwdMinLen     = 8
	pwdMinLenText = fmt.Sprintf("{0} must contain at least %d characters", pwdMinLen)

	pwdNoSpaceText     = "{0} must not contain whitespace"
	pwdNotAllNumText   = "{0} cannot be entirely numeric"
	pwdComplexityText  = "{0} must contain at least 1 uppercase character, 1 lowercase character, 1 digit and 1 special character"
	pwdAttrSimText     = "{0} cannot be similar to user attributes"
	pwdNoCommonText    = "{0} is too common"
	specialRegex       = regexp.MustCompile("[^A-Za-z0-9]")
	pwdMaxSim          = .7
	commonPasswords    []string // sorted
	commonPasswordsMu  sync.RWMutex
	passwordAttributes = []string{"name", "username", "email"}
)

// LoadCommonPasswords reads the gzipped list of common passwords (one per line) found in fsys.
// Until it is called, no password is considered common.
func LoadCommonPasswords(fsys fs.FS, logger core.Logger) {
	file, err := fsys.Open(commonPasswordsPath)
	if err != nil {
		logger.Error(fmt.Sprintf("opening common passwords: %v", err), err)
		return
	}
	defer func() { _ = file.Close() }()

	gzRdr, err := gzip.NewReader(file)
	if err != nil {
		logger.Error(fmt.Sprintf("reading common passwords: %v", err), err)
		return
	}
	pwds := make([]string, 0, 1024)
	scanner := bufio.NewScanner(gzRdr)
	for scanner.Scan() {
		if pwd := strings.TrimSpace(scanner.Text()); pwd != "" {
			pwds = append(pwds, strings.ToLower(pwd))
		}
	}
	if err = scanner.Err(); err != nil {
		logger.Error(fmt.Sprintf("reading common passwords: %v", err), errors.WithStack(err))
		return
	}
	sort.Strings(pwds)

	commonPasswordsMu.Lock()
	commonPasswords = pwds
	commonPasswordsMu.Unlock()
}

func isCommonPassword(pwd string) bool {
	lpwd := strings.ToLower(pwd)
	commonPasswordsMu.RLock()
	defer commonPasswordsMu.RUnlock()
	idx := sort.SearchStrings(commonPasswords, lpwd)
	return idx < len(commonPasswords) && commonPasswords[idx] == lpwd
}

// Schemas

// FormSchema is the schema of the "user" form, submitted through SubmitCreate.
func (svc *Service) FormSchema() *schema.Schema { return svc.createSchema() }

// createSchema validates the user registration form.
func (svc *Service) createSchema() *schema.Schema {
	return schema.New("user",
		schema.String("name").Required().Min(2).Max(100),
		schema.String("username").Lower().Min(6).Max(30).Format(schema.FormatUsername).Unique(svc.usernameAvailable("")),
		schema.String("email").Required().Lower().Email().Unique(svc.emailAvailable("")),
		schema.String("phone").Format(schema.FormatPhone),
		schema.String("department").Max(100),
		schema.String("role").Required().OneOf(AllRoles...),
		schema.String("password").Required().CheckWith(validatePassword),
		schema.String("passwordConfirm").Required().Labelled("password confirmation").EqualsField("password"),
	)
}

// updateSchema validates a partial update of usr. Absent fields are left unchanged.
func (svc *Service) updateSchema(usr User) *schema.Schema {
	return schema.New("user-update",
		schema.String("name").Min(2).Max(100),
		schema.String("username").Lower().Min(6).Max(30).Format(schema.FormatUsername).Unique(svc.usernameAvailable(usr.ID)),
		schema.String("email").Lower().Email().Unique(svc.emailAvailable(usr.ID)),
		schema.String("phone").Format(schema.FormatPhone),
		schema.String("department").Max(100),
		schema.String("role").OneOf(AllRoles...),
		schema.String("status").OneOf(Statuses...),
		schema.List("permissions").Lower(),
		schema.String("reason").Max(500),
		schema.String("password").CheckWith(validatePassword),
		schema.String("passwordConfirm").Labelled("password confirmation").EqualsField("password"),
	)
}

// validatePassword applies the password policy:
// - minLen: 8
// - no whitespace
// - not all numeric
// - complexity: 1 upper, 1 lower, 1 digit, 1 special
// - no user attrs similarity
// - no common password
func validatePassword(value interface{}, values schema.Values) string {
	pwd, _ := value.(string)

	var (
		digitCount         int
		hasUpper, hasLower bool
	)

	pwdLen := len([]rune(pwd))
	if pwdLen < pwdMinLen {
		return pwdMinLenText
	}
	for _, char := range pwd {
		if unicode.IsSpace(char) {
			return pwdNoSpaceText
		}
		if unicode.IsDigit(char) {
			digitCount++
		}
		if !hasUpper && unicode.IsUpper(char) {
			hasUpper = true
		}
		if !hasLower && unicode.IsLower(char) {
			hasLower = true
		}
	}

	if digitCount == pwdLen {
		return pwdNotAllNumText
	}

	if !(hasUpper && hasLower && digitCount > 0 && specialRegex.MatchString(pwd)) {
		return pwdComplexityText
	}

	lpwd := strings.ToLower(pwd)
	for _, attr := range passwordAttributes {
		s, _ := values[attr].(string)
		if similarity(lpwd, core.CleanString(s, true /* lower */)) >= pwdMaxSim {
			return pwdAttrSimText
		}
	}

	if isCommonPassword(pwd) {
		return pwdNoCommonText
	}
	return ""
}

// PasswordError returns the password policy violation of pwd as the password of usr, or "".
func PasswordError(usr User, pwd string) string {
	values := schema.Values{
		"name":     usr.Name,
		"username": usr.Username,
		"email":    usr.Email,
	}
	return strings.ReplaceAll(validatePassword(pwd, values), "{0}", "password")
}

func similarity(pwd, attr string) float64 {
	if attr == "" {
		return 0
	}
	return difflib.NewMatcher(strings.Split(pwd, ""), strings.Split(attr, "")).QuickRatio()
}
