package intake

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// Имена диалогов.
const (
	DialogRegistration = "registration"
	DialogJobPost      = "jobpost"
	DialogJobRepost    = "jobrepost"
	DialogTopUp        = "topup"
	DialogSubscribe    = "subscribe"
	DialogEditProfile  = "editprofile"
)

// step описывает один шаг диалога: вопрос, поле scratch, проверку
// ввода и следующий шаг. Пустой next завершает диалог; branch
// переопределяет next по введённому значению.
type step struct {
	prompt   string
	field    string
	choices  []string
	validate func(value string) error
	next     string
	branch   map[string]string
	// evidence помечает шаг, который принимает вложение,
	// а не текстовый ввод.
	evidence bool
}

// dialog статическая таблица переходов: шаги по именам и первый шаг.
type dialog struct {
	first string
	steps map[string]step
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
var phoneRe = regexp.MustCompile(`^\+?\d{8,15}$`)

func notEmpty(field string) func(string) error {
	return func(value string) error {
		if strings.TrimSpace(value) == "" {
			return models.NewValidationError(field, "must not be empty")
		}
		return nil
	}
}

func oneOf(field string, choices ...string) func(string) error {
	return func(value string) error {
		for _, choice := range choices {
			if value == choice {
				return nil
			}
		}
		return models.NewValidationError(field,
			fmt.Sprintf("must be one of: %s", strings.Join(choices, ", ")))
	}
}

func validDate(field string) func(string) error {
	return func(value string) error {
		if !dateRe.MatchString(value) {
			return models.NewValidationError(field, "must be in YYYY-MM-DD format")
		}
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return models.NewValidationError(field, "is not a valid date")
		}
		return nil
	}
}

func validPhone(field string) func(string) error {
	return func(value string) error {
		if !phoneRe.MatchString(value) {
			return models.NewValidationError(field, "must be a phone number with 8-15 digits")
		}
		return nil
	}
}

func validID(field string) func(string) error {
	return func(value string) error {
		if _, err := strconv.ParseInt(value, 10, 64); err != nil {
			return models.NewValidationError(field, "must be a numeric id")
		}
		return nil
	}
}

// Поля анкеты, разрешённые для правки, по видам профиля.
var editableAttrs = map[string][]string{
	models.ProfileApplicant: {
		"name", "dob", "past_experiences", "citizenship",
		"race", "gender", "highest_education", "whatsapp_number",
	},
	models.ProfileAgency: {
		"full_name", "company_name", "company_uen",
	},
}

var dialogs = map[string]dialog{
	DialogRegistration: {
		first: "account_type",
		steps: map[string]step{
			"account_type": {
				prompt:   "Are you registering as an applicant or an agency?",
				field:    "account_type",
				choices:  []string{models.ProfileApplicant, models.ProfileAgency},
				validate: oneOf("account_type", models.ProfileApplicant, models.ProfileAgency),
				branch: map[string]string{
					models.ProfileApplicant: "name",
					models.ProfileAgency:    "full_name",
				},
			},

			// Ветка соискателя.
			"name": {
				prompt:   "What is your full name?",
				field:    "name",
				validate: notEmpty("name"),
				next:     "dob",
			},
			"dob": {
				prompt:   "What is your date of birth? (YYYY-MM-DD)",
				field:    "dob",
				validate: validDate("dob"),
				next:     "past_experiences",
			},
			"past_experiences": {
				prompt:   "Describe your past work experiences.",
				field:    "past_experiences",
				validate: notEmpty("past_experiences"),
				next:     "citizenship",
			},
			"citizenship": {
				prompt:   "What is your citizenship?",
				field:    "citizenship",
				validate: notEmpty("citizenship"),
				next:     "race",
			},
			"race": {
				prompt:   "What is your race?",
				field:    "race",
				validate: notEmpty("race"),
				next:     "gender",
			},
			"gender": {
				prompt:   "What is your gender?",
				field:    "gender",
				validate: notEmpty("gender"),
				next:     "highest_education",
			},
			"highest_education": {
				prompt:   "What is your highest education?",
				field:    "highest_education",
				validate: notEmpty("highest_education"),
				next:     "whatsapp_number",
			},
			"whatsapp_number": {
				prompt:   "What is your WhatsApp number?",
				field:    "whatsapp_number",
				validate: validPhone("whatsapp_number"),
			},

			// Ветка агентства.
			"full_name": {
				prompt:   "What is your full name?",
				field:    "full_name",
				validate: notEmpty("full_name"),
				next:     "company_name",
			},
			"company_name": {
				prompt:   "What is your company name?",
				field:    "company_name",
				validate: notEmpty("company_name"),
				next:     "company_uen",
			},
			"company_uen": {
				prompt:   "What is your company UEN?",
				field:    "company_uen",
				validate: notEmpty("company_uen"),
			},
		},
	},

	DialogJobPost: {
		first: "profile",
		steps: map[string]step{
			"profile": {
				prompt:   "Which agency profile is this job for? Reply with the profile id.",
				field:    "profile",
				validate: validID("profile"),
				next:     "job_title",
			},
			"job_title": {
				prompt:   "What is the job title?",
				field:    "job_title",
				validate: notEmpty("job_title"),
				next:     "company_industry",
			},
			"company_industry": {
				prompt:   "What industry is the company in?",
				field:    "company_industry",
				validate: notEmpty("company_industry"),
				next:     "date_time",
			},
			"date_time": {
				prompt:   "What are the working dates and times?",
				field:    "date_time",
				validate: notEmpty("date_time"),
				next:     "pay_rate",
			},
			"pay_rate": {
				prompt:   "What is the pay rate?",
				field:    "pay_rate",
				validate: notEmpty("pay_rate"),
				next:     "job_scope",
			},
			"job_scope": {
				prompt:   "Describe the job scope.",
				field:    "job_scope",
				validate: notEmpty("job_scope"),
			},
		},
	},

	DialogJobRepost: {
		first: "job",
		steps: map[string]step{
			"job": {
				prompt:   "Which job would you like to repost? Reply with the job id.",
				field:    "job",
				validate: validID("job"),
			},
		},
	},

	DialogTopUp: {
		first: "package",
		steps: map[string]step{
			"package": {
				prompt:   "Which package would you like to buy? Reply with the package id.",
				field:    "package",
				validate: validID("package"),
				next:     "evidence",
			},
			"evidence": {
				prompt:   "Send a screenshot of your payment.",
				field:    "evidence",
				evidence: true,
			},
		},
	},

	DialogSubscribe: {
		first: "plan",
		steps: map[string]step{
			"plan": {
				prompt:   "Which subscription plan would you like? Reply with the plan id.",
				field:    "plan",
				validate: validID("plan"),
				next:     "evidence",
			},
			"evidence": {
				prompt:   "Send a screenshot of your payment.",
				field:    "evidence",
				evidence: true,
			},
		},
	},

	DialogEditProfile: {
		first: "profile",
		steps: map[string]step{
			"profile": {
				prompt:   "Which profile would you like to edit? Reply with the profile id.",
				field:    "profile",
				validate: validID("profile"),
				next:     "attribute",
			},
			"attribute": {
				prompt:   "Which field would you like to change?",
				field:    "attribute",
				validate: notEmpty("attribute"),
				next:     "value",
			},
			"value": {
				prompt:   "Enter the new value.",
				field:    "value",
				validate: notEmpty("value"),
			},
		},
	},
}

// nextStep возвращает имя следующего шага с учётом ветвления.
func (s step) nextStep(value string) string {
	if s.branch != nil {
		if next, ok := s.branch[value]; ok {
			return next
		}
	}
	return s.next
}

func attrAllowed(kind, attr string) bool {
	for _, allowed := range editableAttrs[kind] {
		if attr == allowed {
			return true
		}
	}
	return false
}
