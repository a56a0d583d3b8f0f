package schedule

// ShopInfo is the static description of the nursery served to the front-end
// and to the chat assistant.
type ShopInfo struct {
	Name          string            `yaml:"name" json:"name"`
	Address       string            `yaml:"address" json:"address"`
	Phone         string            `yaml:"phone" json:"phone"`
	OperatorEmail string            `yaml:"operator_email" json:"email"`
	Hours         string            `yaml:"hours" json:"hours"`
	Products      []ProductCategory `yaml:"products" json:"products"`
}

type ProductCategory struct {
	Category string   `yaml:"category" json:"category"`
	Items    []string `yaml:"items" json:"items"`
	Tips     string   `yaml:"tips" json:"tips"`
}

// DefaultShopInfo is used when no shop profile file is configured.
func DefaultShopInfo() ShopInfo {
	return ShopInfo{
		Name:          "Pépinières Jean Gissinger",
		Address:       "122 rue 4e Rgt de Spahis Marocain, 68250 ROUFFACH",
		Phone:         "03 89 49 62 18",
		OperatorEmail: "contact@jeangissinger.fr",
		Hours:         "Mardi-Samedi: 8h00-12h00 et 13h30-17h30 (Samedi fermeture 16h30). Fermé le Lundi et Dimanche.",
		Products: []ProductCategory{
			{
				Category: "Arbres Fruitiers",
				Items:    []string{"Pommiers anciennes variétés", "Cerisiers", "Petits fruits (groseilles, framboises)"},
				Tips:     "Planter de préférence en automne/hiver hors gel.",
			},
			{
				Category: "Plantes d'Ornement",
				Items:    []string{"Rosiers", "Vivaces", "Arbustes à fleurs"},
				Tips:     "Bien arroser la première année de plantation.",
			},
			{
				Category: "Aménagement",
				Items:    []string{"Haies champêtres", "Arbres d'ombrage", "Plantes de rocaille"},
				Tips:     "Pensez aux distances de plantation.",
			},
		},
	}
}
