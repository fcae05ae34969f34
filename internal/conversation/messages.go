package conversation

import (
	"errors"
	"fmt"

	"github.com/m3rciful/drawbot/core/telegram/format"
	"github.com/m3rciful/drawbot/internal/apperr"
	"github.com/m3rciful/drawbot/internal/validation"
)

// Button captions.
const (
	BeginButton  = "Введите номер чека"
	FinishButton = "Завершить"
)

// Cancel button payloads.
const (
	CancelAction   = "cancel"
	CancelFinish   = "finish"
	CancelContinue = "continue"
)

const (
	promptDocument = "Введите номер чека:"
	promptFullName = "Введите свое Ф.И.О.:"
	promptPhone    = "Введите свой номер телефона:"
	promptHandle   = "Введите название своего аккаунта Instagram:"

	msgCancelled     = "Участие в розыгрыше отменено. Спасибо за проявленный интерес."
	msgCancelConfirm = "Завершить участие в розыгрыше? Введённые данные будут удалены."
	msgIdleHint      = "Чтобы принять участие в розыгрыше, нажмите «" + BeginButton + "» или отправьте /start."
	msgRetry         = "Неизвестная ошибка. Попробуйте ещё раз немного позже."

	msgNotFound      = "Вы ввели не верный номер чека"
	msgAlreadyUsed   = "Данный чек уже участвует в розыгрыше"
	msgNoActiveDraw  = "Не найден активный розыгрыш"
	msgMismatch      = "Сумма чека не соответствует правилам розыгрыша"
	msgHandleInvalid = "Вы ввели недействительный аккаунт инстаграмма."

	defaultIntroduction = "Добро пожаловать! Зарегистрируйте чек, чтобы участвовать в розыгрыше приза."
)

func completedMessage(number *int) string {
	return fmt.Sprintf("Спасибо за регистрацию. Вы участвуете в розыгрыше приза!\nНомер участника: %s", format.OptionalInt(number))
}

func smsText(number *int) string {
	return fmt.Sprintf("Вы зарегистрированы в розыгрыше приза. Номер участника: %s", format.OptionalInt(number))
}

// userMessage returns the text shown for a domain error.
func userMessage(err error) string {
	var rej *validation.Rejection
	if errors.As(err, &rej) {
		return rej.Message
	}
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return msgNotFound
	case apperr.KindAlreadyUsed:
		return msgAlreadyUsed
	case apperr.KindNoActiveDraw:
		return msgNoActiveDraw
	case apperr.KindMismatch:
		return msgMismatch
	case apperr.KindHandleInvalid:
		return msgHandleInvalid
	}
	return msgRetry
}
