// Package models содержит доменные структуры ядра маркетплейса:
// сессии диалогов, отложенные действия, счета токенов, подписки,
// а также справочные данные (пакеты и тарифные планы).
package models

import "time"

// Статусы отложенного действия. Переход pending -> approved|rejected
// выполняется ровно один раз.
const (
	ActionStatusPending  = "pending"
	ActionStatusApproved = "approved"
	ActionStatusRejected = "rejected"
)

// Виды отложенных действий.
const (
	ActionKindPayment   = "payment"
	ActionKindJobPost   = "job-post"
	ActionKindJobRepost = "job-repost"
)

// Статусы подписки. Покупка при уже активной подписке создаёт
// queued-запись; очистка подписок переводит её в active, когда
// наступает start_date и активной подписки у аккаунта больше нет.
const (
	SubscriptionActive  = "active"
	SubscriptionQueued  = "queued"
	SubscriptionExpired = "expired"
)

// Статусы вакансии.
const (
	JobStatusDraft     = "draft"
	JobStatusPublished = "published"
)

// Виды профилей.
const (
	ProfileApplicant = "applicant"
	ProfileAgency    = "agency"
)

// Session хранит состояние активного диалога пользователя.
// CurrentStep пустой, когда диалог не ведётся; Scratch содержит только
// поля текущего диалога (Start всегда очищает его).
type Session struct {
	SessionID   string
	Dialog      string
	CurrentStep string
	Scratch     map[string]string
	CreatedAt   time.Time
}

// Active сообщает, ведётся ли сейчас диалог в этой сессии.
func (s *Session) Active() bool {
	return s != nil && s.CurrentStep != ""
}

// ActionPayload полезная нагрузка отложенного действия.
// Для kind = payment заполняются PackageID или PlanID и EvidenceRef,
// для kind = job-post / job-repost — JobID и DebitedTokens (сумма,
// списанная при подаче, возвращаемая при отклонении).
type ActionPayload struct {
	PackageID     *int   `json:"package_id,omitempty"`
	PlanID        *int   `json:"plan_id,omitempty"`
	EvidenceRef   string `json:"evidence_ref,omitempty"`
	JobID         *int64 `json:"job_id,omitempty"`
	DebitedTokens int    `json:"debited_tokens,omitempty"`
}

// PendingAction действие, ожидающее решения ревьюера. Записи не
// удаляются и служат журналом аудита.
type PendingAction struct {
	ID          int64
	Kind        string
	RequesterID string
	Payload     ActionPayload
	Status      string
	CreatedAt   time.Time
	DecidedAt   *time.Time
}

// LedgerAccount счёт пользователя. TokenExpiry имеет смысл только при
// положительном балансе; баланс и срок действия меняются вместе.
type LedgerAccount struct {
	AccountID        string
	TokenBalance     int
	TokenExpiry      *time.Time
	ShortlistBalance int
}

// Subscription экземпляр тарифного плана. У аккаунта не более одной
// активной подписки; новая покупка ставится в очередь на день после
// окончания текущей.
type Subscription struct {
	ID               int64
	AccountID        string
	PlanID           int
	StartDate        time.Time
	EndDate          time.Time
	LastDistribution *time.Time
	Status           string
}

// Package разовый пакет токенов (справочные данные, только чтение).
type Package struct {
	ID           int
	Name         string
	Price        int
	Tokens       int
	ValidityDays int
}

// Plan тарифный план подписки (справочные данные, только чтение).
type Plan struct {
	ID             int
	Name           string
	Price          int
	TokensPerMonth int
	DurationMonths int
}

// Profile анкета соискателя или агентства, собранная диалогом
// регистрации. Attrs содержит только поля, разрешённые для вида профиля.
type Profile struct {
	ID        int64
	UID       string
	AccountID string
	Kind      string
	Attrs     map[string]string
	CreatedAt time.Time
}

// Job вакансия, созданная диалогом размещения. Публикуется только
// после одобрения ревьюером.
type Job struct {
	ID             int64
	AccountID      string
	ProfileID      int64
	Title          string
	Industry       string
	Schedule       string
	PayRate        string
	Scope          string
	Status         string
	ShortlistCount int
	CreatedAt      time.Time
}
