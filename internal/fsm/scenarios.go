package fsm

// ScenarioType identifies one of the fixed deep-dive wizards reachable from
// the SCENARIOS state.
type ScenarioType string

const (
	ScenarioCredit          ScenarioType = "credit"
	ScenarioRefinance       ScenarioType = "refinance"
	ScenarioDebtPlan        ScenarioType = "debtPlan"
	ScenarioImproveHistory  ScenarioType = "improveHistory"
	ScenarioInsuranceReturn ScenarioType = "insuranceReturn"
	ScenarioBankruptcy      ScenarioType = "bankruptcy"
)

// ScenarioStep is one question of a scenario wizard.
type ScenarioStep struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// Scenario is a named wizard with its ordered steps.
type Scenario struct {
	Type  ScenarioType   `json:"type"`
	Title string         `json:"title"`
	Steps []ScenarioStep `json:"steps"`
}

var scenarios = map[ScenarioType]Scenario{
	ScenarioCredit: {
		Type:  ScenarioCredit,
		Title: "Получение кредита",
		Steps: []ScenarioStep{
			{ID: "goal", Title: "Цель кредита", Question: "Для чего нужен кредит?", Options: []string{"Покупка авто", "Ремонт", "Медицина", "Образование", "Бизнес", "Другое"}},
			{ID: "amount", Title: "Сумма", Question: "Какая сумма вам нужна?", Options: []string{"до 100к", "100-300к", "300-500к", "500к-1М", "1М+"}},
			{ID: "income", Title: "Доход", Question: "Ваш ежемесячный доход?", Options: []string{"до 50к", "50-100к", "100-200к", "200к+"}},
			{ID: "employment", Title: "Занятость", Question: "Ваш тип занятости?", Options: []string{"Официальная работа", "ИП/Самозанятый", "Неофициально", "Безработный"}},
			{ID: "details", Title: "Детали", Question: "Что ещё важно знать о вашей ситуации?"},
		},
	},
	ScenarioRefinance: {
		Type:  ScenarioRefinance,
		Title: "Рефинансирование",
		Steps: []ScenarioStep{
			{ID: "currentLoans", Title: "Текущие кредиты", Question: "Сколько у вас действующих кредитов?", Options: []string{"1", "2-3", "4-5", "6+"}},
			{ID: "totalDebt", Title: "Общий долг", Question: "Общая сумма задолженности?", Options: []string{"до 100к", "100-300к", "300-500к", "500к-1М", "1М+"}},
			{ID: "monthlyPayment", Title: "Платёж", Question: "Текущий ежемесячный платёж?", Options: []string{"до 10к", "10-30к", "30-50к", "50-100к", "100к+"}},
			{ID: "details", Title: "Детали", Question: "Расскажите подробнее о целях рефинансирования"},
		},
	},
	ScenarioDebtPlan: {
		Type:  ScenarioDebtPlan,
		Title: "План выхода из долгов",
		Steps: []ScenarioStep{
			{ID: "debtType", Title: "Тип долгов", Question: "Какие у вас долги?", Options: []string{"Кредиты", "Микрозаймы", "Кредитные карты", "Долги физлицам", "Смешанные"}},
			{ID: "overdue", Title: "Просрочки", Question: "Есть просроченные платежи?", Options: []string{"Нет", "До 30 дней", "30-90 дней", "90+ дней"}},
			{ID: "collectors", Title: "Коллекторы", Question: "Звонят коллекторы?", Options: []string{"Нет", "Иногда", "Часто", "Постоянно"}},
			{ID: "income", Title: "Доход", Question: "Сколько можете выделять на погашение?", Options: []string{"до 10к", "10-20к", "20-40к", "40к+"}},
			{ID: "priority", Title: "Приоритет", Question: "Что важнее: скорость или комфорт?", Options: []string{"Погасить быстрее", "Платить меньше", "Баланс"}},
			{ID: "details", Title: "Детали", Question: "Что ещё важно учесть?"},
		},
	},
	ScenarioImproveHistory: {
		Type:  ScenarioImproveHistory,
		Title: "Улучшение кредитной истории",
		Steps: []ScenarioStep{
			{ID: "currentScore", Title: "Текущий рейтинг", Question: "Как вы оцениваете свою КИ?", Options: []string{"Хорошая", "Средняя", "Плохая", "Очень плохая", "Не знаю"}},
			{ID: "negativeFactors", Title: "Негатив", Question: "Какие негативные факторы есть?", Options: []string{"Просрочки", "Много запросов", "Судебные решения", "Банкротство", "Не знаю"}},
			{ID: "goal", Title: "Цель", Question: "Зачем улучшать КИ?", Options: []string{"Получить кредит", "Снизить ставку", "Ипотека", "Просто улучшить"}},
			{ID: "timeline", Title: "Срок", Question: "За какой срок хотите улучшить?", Options: []string{"1-3 месяца", "3-6 месяцев", "6-12 месяцев", "Год+"}},
			{ID: "details", Title: "Детали", Question: "Расскажите подробнее о ситуации"},
		},
	},
	ScenarioInsuranceReturn: {
		Type:  ScenarioInsuranceReturn,
		Title: "Возврат страхования",
		Steps: []ScenarioStep{
			{ID: "insuranceType", Title: "Тип страховки", Question: "Какую страховку хотите вернуть?", Options: []string{"Страхование жизни", "От потери работы", "Имущества", "Другое"}},
			{ID: "when", Title: "Когда оформили", Question: "Когда была оформлена?", Options: []string{"До 14 дней", "14 дней - 1 мес", "1-6 месяцев", "6+ месяцев"}},
			{ID: "amount", Title: "Сумма", Question: "Сумма страховки?", Options: []string{"до 10к", "10-30к", "30-50к", "50-100к", "100к+"}},
			{ID: "details", Title: "Детали", Question: "Как была навязана страховка?"},
		},
	},
	ScenarioBankruptcy: {
		Type:  ScenarioBankruptcy,
		Title: "Банкротство",
		Steps: []ScenarioStep{
			{ID: "totalDebt", Title: "Общий долг", Question: "Общая сумма долгов?", Options: []string{"до 500к", "500к-1М", "1-3М", "3М+"}},
			{ID: "property", Title: "Имущество", Question: "Есть ли имущество?", Options: []string{"Нет", "Авто", "Недвижимость", "И то и другое"}},
			{ID: "income", Title: "Доход", Question: "Официальный доход?", Options: []string{"Нет", "до 50к", "50-100к", "100к+"}},
			{ID: "previousAttempts", Title: "Попытки", Question: "Пробовали договориться с кредиторами?", Options: []string{"Нет", "Да, отказали", "Да, частично"}},
			{ID: "details", Title: "Детали", Question: "Опишите вашу ситуацию"},
		},
	},
}

// ScenarioByType looks up a wizard definition.
func ScenarioByType(t ScenarioType) (Scenario, bool) {
	s, ok := scenarios[t]
	return s, ok
}

// Scenarios returns all wizard definitions, for the selection screen.
func Scenarios() []Scenario {
	out := make([]Scenario, 0, len(scenarios))
	for _, t := range []ScenarioType{
		ScenarioCredit, ScenarioRefinance, ScenarioDebtPlan,
		ScenarioImproveHistory, ScenarioInsuranceReturn, ScenarioBankruptcy,
	} {
		out = append(out, scenarios[t])
	}
	return out
}

// ScenarioResult is the generative analysis produced when a wizard completes:
// a short summary with exactly three risks and three recommendations.
type ScenarioResult struct {
	Scenario        ScenarioType      `json:"scenario"`
	Answers         map[string]string `json:"answers"`
	Summary         string            `json:"summary"`
	Risks           []string          `json:"risks"`
	Recommendations []string          `json:"recommendations"`
}
