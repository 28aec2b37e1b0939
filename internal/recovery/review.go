package recovery

// Review is the structured object expected from a review reply. Nil fields
// were absent from the model output.
type Review struct {
	Summary   *string
	Rating    *int
	TopIssues []string
}

var reviewKeys = []string{"summary", "rating", "top_issues"}

func reviewFrom(obj object) Review {
	return Review{
		Summary:   textField(obj, "summary"),
		Rating:    intField(obj, "rating"),
		TopIssues: listField(obj, "top_issues"),
	}
}

// DefaultReview is returned when no layer could read the reply.
func DefaultReview() Review {
	summary := "Unable to parse review"
	rating := 5
	return Review{
		Summary:   &summary,
		Rating:    &rating,
		TopIssues: []string{"Review parsing failed"},
	}
}

var reviewLayers = []layer[Review]{
	{name: LayerStrict, parse: func(s string) (Review, bool) {
		obj, ok := strictObject(s)
		if !ok {
			return Review{}, false
		}
		return reviewFrom(obj), true
	}},
	{name: LayerBraces, parse: func(s string) (Review, bool) {
		obj, ok := braceObject(s)
		if !ok {
			return Review{}, false
		}
		return reviewFrom(obj), true
	}},
	{name: LayerRepair, parse: func(s string) (Review, bool) {
		obj, ok := repairedObject(s, reviewKeys...)
		if !ok {
			return Review{}, false
		}
		return reviewFrom(obj), true
	}},
}

// ParseReview recovers a Review from model output. It never fails.
func ParseReview(text string) Result[Review] {
	return firstSuccess(text, reviewLayers, DefaultReview)
}
