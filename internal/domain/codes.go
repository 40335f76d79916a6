package domain

const (
	DefaultAntenna    = 1
	DefaultMotivation = 1
	DefaultExam       = 1
)

var Antennas = map[int]string{
	1: "Alger",
	2: "Oran",
	3: "Annaba",
	4: "Constantine",
	5: "Tlemcen",
}

var Motivations = map[int]string{
	1: "Etudes en France",
	3: "Immigration au Canada",
	4: "Procedure de naturalisation",
	5: "Autre",
}

var Exams = map[int]string{
	1: "TCF SO",
	2: "TCF Canada",
	3: "TCF dans le cadre de la DAP",
}

// ExamTitle maps an exam code to the calendar title, falling back to TCF SO.
func ExamTitle(code int) string {
	if t, ok := Exams[code]; ok {
		return t
	}
	return Exams[DefaultExam]
}
