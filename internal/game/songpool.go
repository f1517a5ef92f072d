package game

import (
	"math/rand"

	"github.com/google/uuid"
	"github.com/jason-s-yu/whosesong/internal/models"
)

// maxOwnerRun is the longest run of consecutive songs from one owner that
// spreadOwners tolerates.
const maxOwnerRun = 2

// BuildSongPool turns the players' ranked track lists into the ordered songs
// of a game, at most totalRounds long.
//
// A track shared by several libraries goes to the player who ranks it highest
// (lowest index); equal ranks go to the earlier player in roster order. Every
// contributing player is asked for an equal share, the first players in
// roster order taking one extra song when the rounds don't divide evenly, and
// shortfalls are backfilled round-robin from players with songs left over.
// The result is shuffled and spread so that no owner plays more than twice in
// a row where that can be avoided.
func BuildSongPool(players []*models.Player, totalRounds int, rng *rand.Rand) []models.RoundSong {
	if len(players) == 0 || totalRounds <= 0 {
		return []models.RoundSong{}
	}

	claimed := claimTracks(players)

	var contributors []*models.Player
	for _, p := range players {
		if len(claimed[p.ID]) > 0 {
			contributors = append(contributors, p)
			songs := claimed[p.ID]
			rng.Shuffle(len(songs), func(i, j int) { songs[i], songs[j] = songs[j], songs[i] })
		}
	}
	if len(contributors) == 0 {
		return []models.RoundSong{}
	}

	base := totalRounds / len(contributors)
	extra := totalRounds % len(contributors)

	pool := make([]models.RoundSong, 0, totalRounds)
	taken := make(map[uuid.UUID]int, len(contributors))
	for i, p := range contributors {
		target := base
		if i < extra {
			target++
		}
		n := min(target, len(claimed[p.ID]))
		pool = append(pool, claimed[p.ID][:n]...)
		taken[p.ID] = n
	}

	// Backfill shortfalls one song per player per pass.
	for len(pool) < totalRounds {
		progressed := false
		for _, p := range contributors {
			if len(pool) == totalRounds {
				break
			}
			if taken[p.ID] < len(claimed[p.ID]) {
				pool = append(pool, claimed[p.ID][taken[p.ID]])
				taken[p.ID]++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	spreadOwners(pool)
	return pool
}

// claimTracks resolves each track id to a single owner, scanning rank tiers
// top-down and the roster in order within a tier.
func claimTracks(players []*models.Player) map[uuid.UUID][]models.RoundSong {
	deepest := 0
	for _, p := range players {
		deepest = max(deepest, len(p.RankedTracks))
	}

	owner := make(map[string]uuid.UUID)
	claimed := make(map[uuid.UUID][]models.RoundSong, len(players))
	for rank := 0; rank < deepest; rank++ {
		for _, p := range players {
			if rank >= len(p.RankedTracks) {
				continue
			}
			track := p.RankedTracks[rank]
			if track.ID == "" {
				continue
			}
			if _, taken := owner[track.ID]; taken {
				continue
			}
			owner[track.ID] = p.ID
			claimed[p.ID] = append(claimed[p.ID], models.RoundSong{
				Track:     track,
				OwnerID:   p.ID,
				OwnerName: p.Name,
			})
		}
	}
	return claimed
}

// spreadOwners rewrites pool in place so no owner holds more than maxOwnerRun
// consecutive positions. A run is broken by pulling in the nearest later song
// of another owner; failing that, by exchanging with the earliest position
// where the swap is safe on both sides. When neither works the whole pool is
// reordered by rebuildSpread. Runs stay only if no run-free order exists.
func spreadOwners(pool []models.RoundSong) {
	for i := maxOwnerRun; i < len(pool); i++ {
		if !endsRun(pool, i) {
			continue
		}

		swapped := false
		for j := i + 1; j < len(pool); j++ {
			if pool[j].OwnerID != pool[i].OwnerID {
				pool[i], pool[j] = pool[j], pool[i]
				swapped = true
				break
			}
		}
		if swapped {
			continue
		}

		for k := 0; k < i-maxOwnerRun; k++ {
			if pool[k].OwnerID == pool[i].OwnerID {
				continue
			}
			pool[i], pool[k] = pool[k], pool[i]
			if !touchesRun(pool, k) && !touchesRun(pool, i) {
				swapped = true
				break
			}
			pool[i], pool[k] = pool[k], pool[i]
		}
		if !swapped {
			rebuildSpread(pool)
			return
		}
	}
}

// rebuildSpread reorders pool so that each position takes the owner with the
// most songs left who would not extend a run past maxOwnerRun; ties go to the
// owner seen first. Each owner's songs keep their relative order. It reports
// false and leaves pool untouched when one owner holds too many songs for any
// run-free order.
func rebuildSpread(pool []models.RoundSong) bool {
	var owners []uuid.UUID
	left := make(map[uuid.UUID][]models.RoundSong)
	for _, s := range pool {
		if _, seen := left[s.OwnerID]; !seen {
			owners = append(owners, s.OwnerID)
		}
		left[s.OwnerID] = append(left[s.OwnerID], s)
	}

	most := 0
	for _, songs := range left {
		most = max(most, len(songs))
	}
	if most > maxOwnerRun*(len(pool)-most+1) {
		return false
	}

	out := make([]models.RoundSong, 0, len(pool))
	for range pool {
		var pick uuid.UUID
		best := 0
		for _, o := range owners {
			if n := len(left[o]); n > best && !extendsRun(out, o) {
				pick, best = o, n
			}
		}
		if best == 0 {
			return false
		}
		out = append(out, left[pick][0])
		left[pick] = left[pick][1:]
	}
	copy(pool, out)
	return true
}

// extendsRun reports whether appending a song of owner to placed would make a
// run longer than maxOwnerRun.
func extendsRun(placed []models.RoundSong, owner uuid.UUID) bool {
	if len(placed) < maxOwnerRun {
		return false
	}
	for _, s := range placed[len(placed)-maxOwnerRun:] {
		if s.OwnerID != owner {
			return false
		}
	}
	return true
}

// endsRun reports whether pool[i] closes a run longer than maxOwnerRun.
func endsRun(pool []models.RoundSong, i int) bool {
	if i < maxOwnerRun {
		return false
	}
	for k := i - maxOwnerRun; k < i; k++ {
		if pool[k].OwnerID != pool[i].OwnerID {
			return false
		}
	}
	return true
}

// touchesRun reports whether any window of maxOwnerRun+1 songs containing
// position i is held by a single owner.
func touchesRun(pool []models.RoundSong, i int) bool {
	for end := i; end <= i+maxOwnerRun && end < len(pool); end++ {
		if endsRun(pool, end) {
			return true
		}
	}
	return false
}
