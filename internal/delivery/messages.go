package delivery

import (
	"errors"
	"fmt"

	"astro-bot/internal/gpt"
	"astro-bot/internal/models"
)

const (
	msgPaymentReceived = "Оплата за «%s» получена! Начинаю расчёт и подготовку файла 🌌\n" +
		"Это займёт несколько минут. Как только всё будет готово, пришлю PDF прямо сюда."
	msgNotEntitled = "Оплата за «%s» ещё не подтверждена. Если вы уже оплатили, " +
		"подождите пару минут и нажмите кнопку ещё раз."
	msgGenerationFailed = "Не получилось подготовить «%s» 😔\n" +
		"Звёзды сегодня капризничают. Нажмите «Получить» ещё раз чуть позже — оплата сохранена."
	msgTryLater = "Сейчас не получается подготовить «%s» 😔 " +
		"Нажмите «Получить» ещё раз через несколько минут."
	msgIncompleteProfile = "Для отчёта «%s» нужны ваши данные рождения. Пройдите /start и возвращайтесь!"
	msgNoPartner         = "Для отчёта «%s» нужны данные партнёра. Откройте /sovmestimost и заполните их."
	msgCaption           = "Готово! Ваш отчёт «%s» 🔮\nИзучите его внимательно, а вопросы задавайте звёздам."
	msgFallbackPrefix    = "Отчёт готов, но файл не прикрепился 😔 Вот текст:\n\n"
)

func failureMessage(p models.Product, err error) string {
	switch {
	case errors.Is(err, gpt.ErrIncompleteProfile):
		return fmt.Sprintf(msgIncompleteProfile, p.Title)
	case errors.Is(err, gpt.ErrNoPartner):
		return fmt.Sprintf(msgNoPartner, p.Title)
	}
	return fmt.Sprintf(msgGenerationFailed, p.Title)
}
