// Package decision реализует непрозрачные коды решений ревьюера.
//
// Код — это подписанный HS256-токен, в котором зашиты идентификатор
// отложенного действия и вердикт. Транспорт вставляет код в кнопку и
// возвращает его в событии decision; ядро восстанавливает из него
// ровно одно действие без какого-либо серверного состояния.
package decision

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Вердикты ревьюера.
const (
	VerdictAccept = "accept"
	VerdictReject = "reject"
)

// Claims данные, зашитые в код решения.
type Claims struct {
	ActionID int64  `json:"action_id"`
	Verdict  string `json:"verdict"`
	jwt.RegisteredClaims
}

// Maker подписывает и разбирает коды решений.
type Maker struct {
	secretKey string
}

// NewMaker создает Maker с заданным секретным ключом.
func NewMaker(secretKey string) *Maker {
	return &Maker{secretKey: secretKey}
}

// Sign выпускает код решения для действия actionID с вердиктом verdict.
// Срок действия не ограничен: отложенные действия ждут ревьюера сколь
// угодно долго.
func (m *Maker) Sign(actionID int64, verdict string) (string, error) {
	const op = "decision.Sign"
	if verdict != VerdictAccept && verdict != VerdictReject {
		return "", fmt.Errorf("%s: unknown verdict %q", op, verdict)
	}
	claims := Claims{
		ActionID: actionID,
		Verdict:  verdict,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.secretKey))
}

// Parse проверяет подпись кода и возвращает идентификатор действия и
// вердикт.
func (m *Maker) Parse(tokenStr string) (int64, string, error) {
	const op = "decision.Parse"
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (any, error) {
		return []byte(m.secretKey), nil
	})
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", op, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return 0, "", fmt.Errorf("%s: invalid token", op)
	}
	if claims.Verdict != VerdictAccept && claims.Verdict != VerdictReject {
		return 0, "", fmt.Errorf("%s: unknown verdict %q", op, claims.Verdict)
	}
	return claims.ActionID, claims.Verdict, nil
}
