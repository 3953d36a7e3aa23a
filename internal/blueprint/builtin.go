package blueprint

import "github.com/yanghanggit/ai-rpg-sub004/internal/models"

const actorRules = `Stay in character. Answer planning prompts with one JSON object only.`

// Builtin returns the bundled blueprints.
func Builtin() []models.Blueprint {
	return []models.Blueprint{dustyTankard()}
}

func dustyTankard() models.Blueprint {
	return models.Blueprint{
		Name:        "The Dusty Tankard",
		Description: "A medieval fantasy tavern at a crossroads. Rumors of a dragon sighting have brought travelers from all directions. The barkeep knows more than he lets on, and the hooded stranger in the corner has been watching you since you walked in.",
		PlayerActor: "Traveler",
		Stages: []models.StageBlueprint{
			{
				Name:          "The Dusty Tankard",
				Description:   "A weathered tavern at the crossroads, filled with the smell of ale and woodsmoke.",
				SystemMessage: "You are the tavern itself, The Dusty Tankard. Narrate the room as travelers come and go.",
				KickOff:       "Describe the tavern as the late afternoon crowd gathers.",
				Home:          true,
				AutoPlanning:  true,
			},
			{
				Name:          "The Crossroads",
				Description:   "A well-traveled intersection of two major roads, with a signpost pointing in four directions.",
				SystemMessage: "You are The Crossroads. Narrate weather, travelers and the road.",
				AutoPlanning:  true,
			},
			{
				Name:           "The Forest Path",
				Description:    "A narrow trail leading into dark, ancient woods.",
				SystemMessage:  "You are The Forest Path. You judge who may enter the woods.",
				EntryCondition: "Only a traveler carrying a lantern may enter after dark.",
				AutoPlanning:   true,
			},
			{
				Name:           "The Wolf Den",
				Description:    "A hollow under the roots of a dead oak, littered with bones.",
				SystemMessage:  "You are The Wolf Den. Narrate the fight vividly and briefly.",
				EntryCondition: "The den is sealed by a thorn gate; only the bearer of the Thorn Key may pass.",
				ExitCondition:  "No one may flee while a wolf still stands.",
				Spawns: []models.ActorBlueprint{
					{
						Name:          "Grey Wolf",
						SystemMessage: "You are a starving grey wolf. You attack intruders. " + actorRules,
						Appearance:    "A gaunt wolf with a torn ear.",
						Stats:         models.StatsBlueprint{HP: 30, Attack: 6, Defense: 1},
						Skills: []models.SkillBlueprint{
							{Name: "Bite", Description: "A snapping bite.", Damage: 4},
							{Name: "Pounce", Description: "Knocks the target down.", Damage: 2, Stun: 1},
						},
						AutoPlanning: true,
						Hostile:      true,
					},
				},
			},
			{
				Name:          "The Market Square",
				Description:   "A bustling open-air market in the nearby village.",
				SystemMessage: "You are The Market Square. Narrate haggling, gossip and the crowd.",
				AutoPlanning:  true,
			},
		},
		Actors: []models.ActorBlueprint{
			{
				Name:          "Traveler",
				SystemMessage: "You are a weary traveler seeking shelter and information.",
				Appearance:    "A dust-covered traveler with a walking staff.",
				Stage:         "The Dusty Tankard",
				Props: []models.PropBlueprint{
					{Name: "Healing Herb", Description: "Restores a little health.", Kind: "consumable", Value: 10},
				},
				Stats: models.StatsBlueprint{HP: 40, Attack: 8, Defense: 2},
				Skills: []models.SkillBlueprint{
					{Name: "Staff Strike", Description: "A solid blow with the staff.", Damage: 5},
					{Name: "Sweep", Description: "Knocks the target off balance.", Damage: 2, Stun: 1},
					{Name: "Guarded Jab", Description: "A careful jab.", Damage: 3},
				},
			},
			{
				Name:          "Grim",
				SystemMessage: "You are Grim, the grizzled barkeep of the Dusty Tankard. You know every rumor that passes through. Goal: keep the peace and profit from the increased traffic. " + actorRules,
				KickOff:       "Greet the room and mention the dragon rumors.",
				Appearance:    "A broad man with a scarred face and a stained apron.",
				Stage:         "The Dusty Tankard",
				Props: []models.PropBlueprint{
					{Name: "Lantern", Description: "A sturdy oil lantern.", Kind: "misc"},
				},
				Stats:        models.StatsBlueprint{HP: 35, Attack: 5, Defense: 3},
				AutoPlanning: true,
			},
			{
				Name:          "Sera",
				SystemMessage: "You are Sera, a hooded stranger who watches the room with sharp eyes. Goal: investigate the dragon sighting without being noticed. " + actorRules,
				KickOff:       "Quietly observe the tavern.",
				Appearance:    "A hooded figure carrying a worn leather journal.",
				Stage:         "The Dusty Tankard",
				Props: []models.PropBlueprint{
					{Name: "Worn Journal", Description: "Notes about the dragon, written in cipher.", Kind: "unique", Unique: true},
					{Name: "Thorn Key", Description: "A key carved from blackthorn.", Kind: "key", Unique: true},
				},
				Stats:        models.StatsBlueprint{HP: 25, Attack: 7, Defense: 1},
				AutoPlanning: true,
			},
			{
				Name:          "Bran",
				SystemMessage: "You are Bran, a loud, boastful merchant who claims to have seen the dragon himself. Goal: sell 'dragon-proof' wares at inflated prices. " + actorRules,
				Appearance:    "A round man in a feathered hat.",
				Stage:         "The Market Square",
				Props: []models.PropBlueprint{
					{Name: "Dragon-proof Cloak", Description: "Almost certainly not dragon-proof.", Kind: "misc", Value: 50},
				},
				Stats:        models.StatsBlueprint{HP: 20, Attack: 2, Defense: 1},
				AutoPlanning: true,
			},
			{
				Name:          "Elda",
				SystemMessage: "You are Elda, an elderly herbalist gathering rare plants. Wise and soft-spoken. Goal: find the moonpetal flower before the frost comes. " + actorRules,
				Appearance:    "A stooped woman with a basket of herbs.",
				Stage:         "The Forest Path",
				Props: []models.PropBlueprint{
					{Name: "Moonpetal Salve", Description: "Heals deep wounds.", Kind: "consumable", Value: 20},
				},
				Stats:        models.StatsBlueprint{HP: 18, Attack: 1, Defense: 0},
				AutoPlanning: true,
			},
		},
		WorldSystems: []models.WorldSystemBlueprint{
			{
				Name:          "Chronicler",
				SystemMessage: "You are the chronicler of this world. You keep the story consistent.",
			},
		},
		Dungeon: &models.DungeonBlueprint{
			Name:   "Wolf Den",
			Stages: []string{"The Wolf Den"},
		},
	}
}
