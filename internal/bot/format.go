package bot

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/Spok95/shipment-recon/internal/domain/shipments"
	"github.com/Spok95/shipment-recon/internal/recon"
)

var statusText = map[shipments.Status]string{
	shipments.StatusPending:   "в работе",
	shipments.StatusMatched:   "совпадает с заказом",
	shipments.StatusConfirmed: "отгружена",
	shipments.StatusCancelled: "отменена",
}

func variantName(names map[int64]string, id int64) string {
	if n, ok := names[id]; ok && n != "" {
		return n
	}
	return "#" + strconv.FormatInt(id, 10)
}

// formatView — карточка сессии: итог, разбивка по позициям и расхождения с заказом.
func formatView(v *recon.SessionView, names map[int64]string) string {
	s := v.Session
	var sb strings.Builder
	fmt.Fprintf(&sb, "📦 Отгрузка #%d: склад %d → %d\n", s.ID, s.OriginID, s.DestinationID)
	fmt.Fprintf(&sb, "Статус: %s\n", statusText[s.Status])
	fmt.Fprintf(&sb, "Коробов: %d, штук итого: %d\n", v.Stats.TotalCases, v.Stats.FinalTotal)
	if v.Stats.Overlap > 0 {
		fmt.Fprintf(&sb, "Из них %d шт. отсканированы и в коробе, и поштучно (учтены один раз)\n", v.Stats.Overlap)
	}

	if len(v.Stats.PerVariant) > 0 {
		ids := make([]int64, 0, len(v.Stats.PerVariant))
		for id := range v.Stats.PerVariant {
			ids = append(ids, id)
		}
		slices.Sort(ids)
		sb.WriteString("\nПо позициям:\n")
		for _, id := range ids {
			fmt.Fprintf(&sb, "• %s — %d\n", variantName(names, id), v.Stats.PerVariant[id])
		}
	}

	if s.Expected == nil {
		sb.WriteString("\nЗаказ получателя не найден, сверять не с чем.")
		return strings.TrimRight(sb.String(), "\n")
	}
	fmt.Fprintf(&sb, "\nПо заказу #%d ожидается: %d шт.\n", s.Expected.OrderID, s.Expected.TotalUnits)
	if s.Expected.Candidates > 1 {
		fmt.Fprintf(&sb, "⚠️ Подходящих заказов: %d, взят последний\n", s.Expected.Candidates)
	}
	if len(v.Discrepancies) == 0 {
		sb.WriteString("✅ Расхождений нет")
		return sb.String()
	}
	sb.WriteString("Расхождения:\n")
	for _, d := range v.Discrepancies {
		fmt.Fprintf(&sb, "• %s: ждём %d, есть %d (%+d)\n", variantName(names, d.VariantID), d.Expected, d.Scanned, d.Diff)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatScan(r recon.ScanResult) string {
	switch r.Outcome {
	case recon.OutcomeShipped:
		return fmt.Sprintf("✅ %s: +%d шт. Итого %d шт., коробов %d", r.Code, r.Units, r.Scanned.TotalUnits, r.Scanned.TotalCases)
	case recon.OutcomeDuplicate:
		return fmt.Sprintf("🔁 %s уже в этой отгрузке", r.Code)
	case recon.OutcomeAlreadyShipped:
		return fmt.Sprintf("⛔ %s нельзя отгрузить: %s", r.Code, r.Reason)
	}
	return fmt.Sprintf("❌ %s: %s", r.Code, r.Reason)
}

func formatSummary(s recon.BatchSummary) string {
	return fmt.Sprintf("Обработано %d из %d: принято %d, повторов %d, ошибок %d",
		s.Processed(), s.Total, s.Success, s.Duplicates, s.Errors)
}

// formatBatch — текст сообщения с прогрессом пакета. rejected — отказы по кодам,
// показываем только последние, чтобы не упереться в лимит сообщения.
func formatBatch(ev recon.BatchEvent, rejected []string) string {
	var sb strings.Builder
	switch ev.Type {
	case recon.EventComplete:
		sb.WriteString("✅ Пакет обработан\n")
	case recon.EventError:
		sb.WriteString("❌ Пакет прерван: " + ev.Message + "\n")
	default:
		sb.WriteString("⏳ Обработка кодов…\n")
	}
	if ev.Summary != nil {
		sb.WriteString(formatSummary(*ev.Summary) + "\n")
	}
	if ev.Scanned != nil {
		fmt.Fprintf(&sb, "В отгрузке: %d шт., коробов %d\n", ev.Scanned.TotalUnits, ev.Scanned.TotalCases)
	}
	if len(rejected) > 0 {
		const keep = 10
		if len(rejected) > keep {
			fmt.Fprintf(&sb, "\nОтказы (последние %d из %d):\n", keep, len(rejected))
			rejected = rejected[len(rejected)-keep:]
		} else {
			sb.WriteString("\nОтказы:\n")
		}
		for _, r := range rejected {
			sb.WriteString(r + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatConfirmation(c *shipments.Confirmation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "🚚 Отгрузка #%d подтверждена, документ %s\n", c.SessionID, c.ShipmentRef)
	fmt.Fprintf(&sb, "По кодам: %d шт., коробов %d", c.UnitsShipped, c.CasesShipped)
	if c.ManualUnitsShipped > 0 {
		fmt.Fprintf(&sb, "\nС ручного остатка: %d шт. (позиция #%d)", c.ManualUnitsShipped, c.ManualVariantID)
	}
	return sb.String()
}

// errText — что сказать кладовщику про ошибку движка.
func errText(err error) string {
	var ce *recon.CommitError
	if errors.As(err, &ce) {
		if ce.ManualStockReversed() {
			return "Не удалось провести коды, ручное списание отменено. Остатки не изменились, попробуйте подтвердить ещё раз."
		}
		if errors.Is(err, recon.ErrReversalFailed) {
			return fmt.Sprintf("Сбой при подтверждении, ручное списание (движение %d) отменить не удалось. Отгрузка заблокирована до ручной сверки, администратор уведомлён.", ce.MovementID)
		}
	}
	switch recon.CodeOf(err) {
	case recon.ErrInvalidCode.Code:
		return "Код не распознан."
	case recon.ErrNothingToShip.Code:
		return "Нечего отгружать: нет кодов и не указан ручной остаток."
	case recon.ErrInvalidManualQty.Code:
		return "Ручной остаток: укажите позицию и количество больше нуля."
	case recon.ErrInsufficientManualBalance.Code:
		return "На складе недостаточно ручного остатка."
	case recon.ErrBatchTooLarge.Code:
		return "Слишком много кодов за раз, разбейте список на части."
	case recon.ErrSessionNotFound.Code, recon.ErrNoActiveSession.Code:
		return "Активная отгрузка не найдена. Начните новую: /ship"
	case recon.ErrCodeNotInSession.Code:
		return "Этого кода нет в отгрузке."
	case recon.ErrSessionClosed.Code:
		return "Отгрузка уже подтверждена или отменена."
	case recon.ErrSessionCommitting.Code:
		return "Отгрузка сейчас подтверждается, подождите и повторите."
	case recon.ErrReconciliationRequired.Code:
		return "Отгрузка заблокирована до ручной сверки остатков."
	case recon.ErrTimeout.Code:
		return "Не успели обработать, попробуйте меньшими партиями."
	}
	if recon.IsRetryable(err) {
		return "Хранилище недоступно, попробуйте ещё раз."
	}
	return "Ошибка: " + err.Error()
}

// parseManual разбирает "variant_id qty".
func parseManual(text string) (variantID, qty int64, err error) {
	f := strings.Fields(text)
	if len(f) != 2 {
		return 0, 0, errors.New("нужно два числа: позиция и количество")
	}
	variantID, err1 := strconv.ParseInt(f[0], 10, 64)
	qty, err2 := strconv.ParseInt(f[1], 10, 64)
	if err1 != nil || err2 != nil || variantID <= 0 || qty <= 0 {
		return 0, 0, errors.New("позиция и количество должны быть положительными числами")
	}
	return variantID, qty, nil
}
