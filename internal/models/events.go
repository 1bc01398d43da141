package models

// Типы входящих событий, доставляемых транспортом (вебхук или очередь).
const (
	EventStart     = "start"
	EventCancel    = "cancel"
	EventMessage   = "message"
	EventChoice    = "choice"
	EventEvidence  = "evidence"
	EventDecision  = "decision"
	EventShortlist = "shortlist"
)

// InboundEvent типизированное входящее событие. Транспорт уже
// сопоставил команду/нажатие кнопки с типом; ядро не знает о проводном
// формате. Доставка как минимум один раз, повторы безопасны.
type InboundEvent struct {
	Type          string `json:"type" validate:"required"`
	SessionID     string `json:"session_id"`
	Dialog        string `json:"dialog,omitempty"`
	Text          string `json:"text,omitempty"`
	ChoiceID      string `json:"choice_id,omitempty"`
	EvidenceRef   string `json:"evidence_ref,omitempty"`
	DecisionToken string `json:"decision_token,omitempty"`
	JobID         int64  `json:"job_id,omitempty"`
	ApplicantRef  string `json:"applicant_ref,omitempty"`
}

// Action кнопка решения в исходящем сообщении; Token — непрозрачный
// код, который транспорт вернёт в событии decision.
type Action struct {
	Label string `json:"label"`
	Token string `json:"token"`
}

// Prompt вопрос очередного шага диалога. Choices заполнен для шагов
// с фиксированным выбором.
type Prompt struct {
	SessionID string   `json:"session_id"`
	Text      string   `json:"text"`
	Choices   []string `json:"choices,omitempty"`
}

// Notification сообщение произвольному аккаунту.
type Notification struct {
	AccountID string   `json:"account_id"`
	Text      string   `json:"text"`
	Actions   []Action `json:"actions,omitempty"`
}

// Broadcast публикация в общий канал.
type Broadcast struct {
	ChannelRef string   `json:"channel_ref"`
	Text       string   `json:"text"`
	Actions    []Action `json:"actions,omitempty"`
}
