package utils

import (
	"math/rand"

	"github.com/mozillazg/go-pinyin"
	"github.com/sysu-ecnc-dev/tour-planner/backend/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

var commonSurnames = []string{
	"王", "李", "张", "刘", "陈", "杨", "赵", "黄", "周", "吴",
	"徐", "孙", "胡", "朱", "高", "林", "何", "郭", "马", "罗",
}
var commonNameCharacters = []string{
	"伟", "强", "芳", "敏", "静", "丽", "刚", "杰", "娟", "勇",
	"艳", "涛", "明", "军", "磊", "洋", "勇", "霞", "飞", "玲",
	"超", "华", "平", "辉", "梅", "鑫", "龙", "鹏", "玉", "斌",
	"庆", "建", "丹", "彬", "凤", "旭", "宁", "乐", "成", "欣",
}

func GenerateRandomChineseName() string {
	surname := commonSurnames[rand.Intn(len(commonSurnames))]
	nameLength := rand.Intn(2) + 1
	name := ""

	for i := 0; i < nameLength; i++ {
		name += commonNameCharacters[rand.Intn(len(commonNameCharacters))]
	}
	return surname + name
}

var roles = []domain.Role{
	domain.RolePlanner,
	domain.RoleAdmin,
}

func GenerateRandomRole() domain.Role {
	return roles[rand.Intn(len(roles))]
}

var digits = "0123456789"

func GenerateUsernameFromChineseName(chineseName string) string {
	pinyinArray := pinyin.LazyConvert(chineseName, nil)
	username := ""

	for _, pinyin := range pinyinArray {
		length := rand.Intn(len(pinyin)) + 1
		username += pinyin[:length]
	}

	digitsLength := rand.Intn(3) + 1
	for i := 0; i < digitsLength; i++ {
		username += string(digits[rand.Intn(len(digits))])
	}

	return username
}

func GenerateRandomUser(password string, emailDomainName string) (*domain.User, error) {
	fullName := GenerateRandomChineseName()
	username := GenerateUsernameFromChineseName(fullName)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username:     username,
		PasswordHash: string(passwordHash),
		FullName:     fullName,
		Email:        username + "@" + emailDomainName,
		Role:         GenerateRandomRole(),
	}

	return user, nil
}

var letters = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*")

func GenerateRandomPassword(length int) string {
	random_password := make([]rune, length)
	for i := range random_password {
		random_password[i] = letters[rand.Intn(len(letters))]
	}
	return string(random_password)
}

func GenerateRandomID(letterLength int, digitLength int) string {
	random_id := make([]rune, letterLength+digitLength)
	for i := range random_id {
		if i < letterLength {
			random_id[i] = letters[rand.Intn(26)] // 只用小写字母
		} else {
			random_id[i] = rune(digits[rand.Intn(len(digits))])
		}
	}
	return string(random_id)
}

// 用 Fisher-Yates 洗牌算法的前 n 步从 1..days 中选出 n 个不同的日期
func GenerateRandomChoices(days int32, n int) []int32 {
	all := make([]int32, days)
	for i := range all {
		all[i] = int32(i + 1)
	}

	if n > len(all) {
		n = len(all)
	}
	for i := 0; i < n; i++ {
		j := rand.Intn(len(all)-i) + i
		all[i], all[j] = all[j], all[i]
	}

	return all[:n]
}

// GenerateRandomFamily 生成一个 2 到 8 人、带 10 个偏好的家庭，联系人的账号由姓名的拼音生成
func GenerateRandomFamily(id int32, days int32) domain.Family {
	contact := GenerateRandomChineseName()
	return domain.Family{
		ID:            id,
		People:        int32(rand.Intn(7) + 2),
		Choices:       GenerateRandomChoices(days, 10),
		ContactName:   contact,
		ContactHandle: GenerateUsernameFromChineseName(contact),
	}
}

// GenerateRandomTour 生成一个随机的参观活动，家庭编号从 0 开始连续
//
// 家庭平均 5 人，n 约为 days*(min+max)/10 时总人数大致落在可行区间的中部
func GenerateRandomTour(n int, days, minAttendance, maxAttendance int32) *domain.Tour {
	tour := &domain.Tour{
		Name:          "参观活动" + GenerateRandomID(3, 3),
		Description:   "随机生成的参观活动",
		Days:          days,
		MinAttendance: minAttendance,
		MaxAttendance: maxAttendance,
		Families:      make([]domain.Family, n),
	}

	for i := range tour.Families {
		tour.Families[i] = GenerateRandomFamily(int32(i), days)
	}

	return tour
}
